package types

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint is a host:port a node listens on.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

// ParseEndpoint parses "host:port".
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: port %q", ErrInvalidEndpoint, portStr)
	}
	e := Endpoint{Host: host, Port: port}
	if err := e.Validate(); err != nil {
		return Endpoint{}, err
	}
	return e, nil
}

// Identity describes a ring node. It is built once at startup and never
// mutated, so it is shared between goroutines without locking.
type Identity struct {
	ID          string
	Host        string
	Port        int
	Successor   Endpoint
	Predecessor Endpoint
}

// Endpoint returns the address other nodes use to reach this node.
func (id Identity) Endpoint() Endpoint {
	return Endpoint{Host: id.Host, Port: id.Port}
}

func (id Identity) Validate() error {
	if id.ID == "" {
		return errors.New("empty node id")
	}
	if err := id.Endpoint().Validate(); err != nil {
		return fmt.Errorf("self: %w", err)
	}
	if err := id.Successor.Validate(); err != nil {
		return fmt.Errorf("successor: %w", err)
	}
	if err := id.Predecessor.Validate(); err != nil {
		return fmt.Errorf("predecessor: %w", err)
	}
	return nil
}
