package ring

import (
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/busybox42/ringnode/pkg/protocol"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// DefaultPendingTTL is how long an originated search waits for a FOUND
// before it is reported as unanswered.
const DefaultPendingTTL = 30 * time.Second

// PendingSearch is a search originated by this node that has not been
// answered yet.
type PendingSearch struct {
	FileID    string
	Direction protocol.Direction
	Started   time.Time
}

type pendingEntry struct {
	PendingSearch
	file    string
	seq     uint64
	settled atomic.Bool
}

// pendingSearches tracks originated searches, one entry per search, so
// repeated searches for the same file are answered one by one. go-cache calls
// OnEvicted for expiry and for Delete, so settled entries are flagged first.
type pendingSearches struct {
	items *cache.Cache
	seq   atomic.Uint64
	log   logrus.FieldLogger
}

func newPendingSearches(ttl time.Duration, log logrus.FieldLogger) *pendingSearches {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	p := &pendingSearches{
		items: cache.New(ttl, ttl/2),
		log:   log,
	}
	p.items.OnEvicted(func(_ string, v interface{}) {
		e := v.(*pendingEntry)
		if e.settled.Load() {
			return
		}
		p.log.WithFields(logrus.Fields{
			"file":      e.FileID,
			"direction": e.Direction,
			"waited":    time.Since(e.Started).Round(time.Millisecond),
		}).Warn("Search expired without a FOUND reply")
	})
	return p
}

func (e *pendingEntry) key() string {
	return e.file + "#" + strconv.FormatUint(e.seq, 10)
}

func (p *pendingSearches) add(fileID string, dir protocol.Direction) {
	e := &pendingEntry{
		PendingSearch: PendingSearch{FileID: fileID, Direction: dir, Started: time.Now()},
		file:          strings.ToLower(fileID),
		seq:           p.seq.Add(1),
	}
	p.items.SetDefault(e.key(), e)
}

// settle removes the oldest pending search for fileID and returns how long it
// was outstanding.
func (p *pendingSearches) settle(fileID string) (time.Duration, bool) {
	for _, e := range p.entries(strings.ToLower(fileID)) {
		if !e.settled.CompareAndSwap(false, true) {
			continue
		}
		p.items.Delete(e.key())
		return time.Since(e.Started), true
	}
	return 0, false
}

// entries returns the unexpired entries for file, or all of them when file is
// empty, oldest first.
func (p *pendingSearches) entries(file string) []*pendingEntry {
	items := p.items.Items()
	out := make([]*pendingEntry, 0, len(items))
	for _, it := range items {
		e := it.Object.(*pendingEntry)
		if file == "" || e.file == file {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (p *pendingSearches) list() []PendingSearch {
	entries := p.entries("")
	out := make([]PendingSearch, 0, len(entries))
	for _, e := range entries {
		if !e.settled.Load() {
			out = append(out, e.PendingSearch)
		}
	}
	return out
}
