// internal/store/local.go
package store

import (
    "sort"
    "strings"
    "sync"
)

// Local is the node's simulated file set. Lookups ignore case.
type Local struct {
    files map[string]string
    mu    sync.RWMutex
}

func NewLocal() *Local {
    return &Local{
        files: make(map[string]string),
    }
}

func (s *Local) Seed(names []string) {
    s.mu.Lock()
    defer s.mu.Unlock()
    for _, name := range names {
        s.files[strings.ToLower(name)] = name
    }
}

func (s *Local) Has(name string) bool {
    s.mu.RLock()
    defer s.mu.RUnlock()
    _, ok := s.files[strings.ToLower(name)]
    return ok
}

func (s *Local) List() []string {
    s.mu.RLock()
    defer s.mu.RUnlock()
    names := make([]string, 0, len(s.files))
    for _, name := range s.files {
        names = append(names, name)
    }
    sort.Strings(names)
    return names
}

func (s *Local) Len() int {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return len(s.files)
}
