package ring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/busybox42/ringnode/pkg/protocol"
	"github.com/busybox42/ringnode/pkg/types"
	"github.com/sirupsen/logrus"
)

// Outcome is the terminal state of one message at one hop.
type Outcome uint8

const (
	Dropped Outcome = iota
	Resolved
	Forwarded
	Reported
)

func (o Outcome) String() string {
	switch o {
	case Dropped:
		return "dropped"
	case Resolved:
		return "resolved"
	case Forwarded:
		return "forwarded"
	case Reported:
		return "reported"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

var ErrInvalidSearch = errors.New("invalid search")

// HandlePayload processes one decrypted payload received from the network.
func (n *Node) HandlePayload(ctx context.Context, payload []byte) Outcome {
	msg, err := protocol.Parse(payload)
	if err != nil {
		n.log.WithError(err).WithField("payload", string(payload)).Error("Dropping malformed payload")
		return Dropped
	}

	switch m := msg.(type) {
	case *protocol.Found:
		return n.handleFound(m)
	case *protocol.Search:
		return n.handleSearch(ctx, m, payload, false)
	default:
		n.log.Errorf("Dropping unsupported message type %v", msg.Type())
		return Dropped
	}
}

// Search originates a search for fileID. The search carries this node as its
// origin so that any FOUND comes back here.
func (n *Node) Search(ctx context.Context, fileID string, dir protocol.Direction) (Outcome, error) {
	msg := &protocol.Search{
		FileID:     strings.TrimSpace(fileID),
		OriginID:   n.self.ID,
		OriginHost: n.self.Host,
		OriginPort: n.self.Port,
		Direction:  dir,
	}
	payload, err := msg.Marshal()
	if err != nil {
		return Dropped, fmt.Errorf("%w: %v", ErrInvalidSearch, err)
	}

	n.pending.add(msg.FileID, dir)
	n.log.WithFields(logrus.Fields{
		"file":      msg.FileID,
		"direction": dir,
	}).Info("Starting search")

	return n.handleSearch(ctx, msg, payload, true), nil
}

func (n *Node) handleFound(m *protocol.Found) Outcome {
	fields := logrus.Fields{
		"file":     m.FileID,
		"resolver": m.ResolverID,
	}
	if elapsed, ok := n.pending.settle(m.FileID); ok {
		fields["elapsed"] = elapsed.Round(time.Microsecond)
	} else {
		fields["unsolicited"] = true
	}
	n.log.WithFields(fields).Infof("Search succeeded: %s is located at node %s", m.FileID, m.ResolverID)
	return Reported
}

func (n *Node) handleSearch(ctx context.Context, m *protocol.Search, payload []byte, originated bool) Outcome {
	log := n.log.WithFields(logrus.Fields{
		"file":      m.FileID,
		"origin":    m.OriginID,
		"direction": m.Direction,
	})

	owned, err := Owns(n.self.ID, m.FileID)
	if err != nil {
		log.WithError(err).Warn("Cannot evaluate ownership, treating file as not owned")
	}

	if owned {
		return n.resolve(ctx, log, m)
	}

	if !originated && m.OriginID == n.self.ID {
		// Back at the originator: the whole ring was traversed without an owner.
		if _, ok := n.pending.settle(m.FileID); ok {
			log.Warn("Search returned to its origin without an owner, dropping")
			return Dropped
		}
	}

	next := n.self.Successor
	if m.Direction == protocol.CounterClockwise {
		next = n.self.Predecessor
	}
	log = log.WithField("to", next.String())
	log.Info("File not owned here, forwarding")
	if err := n.sender.Send(ctx, next, payload); err != nil {
		log.WithError(err).Error("Failed to forward search")
	}
	return Forwarded
}

func (n *Node) resolve(ctx context.Context, log logrus.FieldLogger, m *protocol.Search) Outcome {
	origin := types.Endpoint{Host: m.OriginHost, Port: m.OriginPort}
	log = log.WithField("to", origin.String())

	if n.catalog != nil {
		log = log.WithField("in_catalog", n.catalog.Has(m.FileID))
	}
	log.Infof("File found at this node (%s)", n.self.ID)

	reply, err := (&protocol.Found{FileID: m.FileID, ResolverID: n.self.ID}).Marshal()
	if err != nil {
		log.WithError(err).Error("Failed to build FOUND reply")
		return Resolved
	}
	if err := n.sender.Send(ctx, origin, reply); err != nil {
		log.WithError(err).Error("Failed to send FOUND reply to origin")
	}
	return Resolved
}
