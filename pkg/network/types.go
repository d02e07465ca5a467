package network

import (
	"context"
	"errors"
	"time"

	"github.com/busybox42/ringnode/pkg/crypto"
	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

var ErrNetworkFailure = errors.New("network failure")

// MessageHandlerFunc receives the decrypted payload of one inbound connection.
type MessageHandlerFunc func(ctx context.Context, payload []byte)

type Config struct {
	// Bind is the local address to listen on; empty means all interfaces.
	Bind string
	Port int
	Key  *crypto.Key

	// Dialer is used for outbound hops. Nil dials directly.
	Dialer proxy.Dialer

	// DialTimeout of zero leaves connect bounded only by the OS.
	DialTimeout time.Duration
	MaxLineSize datasize.ByteSize
	Logger      logrus.FieldLogger
}
