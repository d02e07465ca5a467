package ring

import (
	"context"
	"io"
	"time"

	"github.com/busybox42/ringnode/pkg/types"
	"github.com/sirupsen/logrus"
)

// Sender delivers one plaintext payload to another node. Implementations
// envelope the payload and use a fresh connection per call.
type Sender interface {
	Send(ctx context.Context, to types.Endpoint, payload []byte) error
}

// Catalog is the node's local file set.
type Catalog interface {
	Has(name string) bool
}

type Config struct {
	Self       types.Identity
	Sender     Sender
	Catalog    Catalog
	Logger     logrus.FieldLogger
	PendingTTL time.Duration
}

// Node runs the search/resolve state machine for one ring member.
// Every message is self-contained, so handlers share nothing but the
// immutable identity and the pending-search table.
type Node struct {
	self    types.Identity
	sender  Sender
	catalog Catalog
	log     logrus.FieldLogger
	pending *pendingSearches
}

func NewNode(cfg *Config) *Node {
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	log = log.WithField("node", cfg.Self.ID)

	return &Node{
		self:    cfg.Self,
		sender:  cfg.Sender,
		catalog: cfg.Catalog,
		log:     log,
		pending: newPendingSearches(cfg.PendingTTL, log),
	}
}

func (n *Node) Self() types.Identity {
	return n.self
}

// Pending lists searches originated here that are still waiting for a reply.
func (n *Node) Pending() []PendingSearch {
	return n.pending.list()
}
