// pkg/network/transport.go
package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/busybox42/ringnode/pkg/crypto"
	"github.com/busybox42/ringnode/pkg/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Transport is both sides of a ring node's wire: it accepts inbound
// connections, one goroutine each, and sends each outbound message over a
// new short-lived connection.
type Transport struct {
	config   *Config
	log      logrus.FieldLogger
	dialer   proxy.Dialer
	listener net.Listener
	handler  MessageHandlerFunc

	mu     sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTransport(config *Config) *Transport {
	log := config.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if config.MaxLineSize == 0 {
		config.MaxLineSize = DefaultMaxLineSize
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = proxy.Direct
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		config: config,
		log:    log,
		dialer: dialer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handle sets the function that receives every authenticated payload.
func (t *Transport) Handle(fn MessageHandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// Start binds the configured port and begins accepting connections.
func (t *Transport) Start() error {
	addr := net.JoinHostPort(t.config.Bind, strconv.Itoa(t.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	t.Serve(listener)
	return nil
}

// Serve accepts connections on an existing listener.
func (t *Transport) Serve(listener net.Listener) {
	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	t.log.Infof("Listening on %s", listener.Addr())
	t.wg.Add(1)
	go t.acceptLoop(listener)
}

// Addr returns the listening address, or nil before Start/Serve.
func (t *Transport) Addr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Stop closes the listener and waits for in-flight handlers.
func (t *Transport) Stop() error {
	t.cancel()

	t.mu.Lock()
	listener := t.listener
	t.listener = nil
	t.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	t.wg.Wait()
	return err
}

func (t *Transport) acceptLoop(listener net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.WithError(err).Error("Failed to accept connection")
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleConnection(conn)
		}()
	}
}

func (t *Transport) handleConnection(conn net.Conn) {
	defer conn.Close()

	log := t.log.WithFields(logrus.Fields{
		"conn":   uuid.NewString(),
		"remote": conn.RemoteAddr().String(),
	})

	line, err := t.readLine(conn)
	if err != nil {
		log.WithError(err).Debug("Connection closed before a full line arrived")
		return
	}
	log.WithField("raw", line).Debug("Received line")

	payload, err := crypto.Decode(line, t.config.Key)
	switch {
	case errors.Is(err, crypto.ErrAuthenticationFailure):
		log.WithField("security", true).Warn("Invalid HMAC, discarding message")
		return
	case err != nil:
		log.WithError(err).Error("Discarding malformed envelope")
		return
	}
	log.Debug("HMAC verified")

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		log.Warn("No handler registered, discarding message")
		return
	}
	handler(t.ctx, payload)
}

// readLine reads exactly one newline-terminated line of at most MaxLineSize bytes.
func (t *Transport) readLine(conn net.Conn) (string, error) {
	limit := int64(t.config.MaxLineSize.Bytes())
	reader := bufio.NewReader(io.LimitReader(conn, limit+1))

	line, err := reader.ReadString(lineDelimiter)
	if err != nil {
		if int64(len(line)) > limit {
			return "", fmt.Errorf("line exceeds %s", t.config.MaxLineSize.HumanReadable())
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Send envelopes payload and writes it as one line over a new connection.
// It never waits for a response.
func (t *Transport) Send(ctx context.Context, to types.Endpoint, payload []byte) error {
	line, err := crypto.Encode(payload, t.config.Key)
	if err != nil {
		return err
	}

	if t.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.DialTimeout)
		defer cancel()
	}

	conn, err := t.dial(ctx, to.String())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrNetworkFailure, to, err)
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, line+string(lineDelimiter)); err != nil {
		return fmt.Errorf("%w: write to %s: %w", ErrNetworkFailure, to, err)
	}

	t.log.WithField("to", to.String()).Debug("Message sent")
	return nil
}

func (t *Transport) dial(ctx context.Context, addr string) (net.Conn, error) {
	if cd, ok := t.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return t.dialer.Dial("tcp", addr)
}
