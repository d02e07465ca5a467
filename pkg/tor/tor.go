package tor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cretz/bine/tor"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const startTimeout = 3 * time.Minute

// TorManager manages an embedded Tor process used to carry ring traffic.
type TorManager struct {
	TorInstance *tor.Tor
	SocksPort   int
	DataDir     string
	log         logrus.FieldLogger
}

// StartTor launches Tor with its SOCKS5 proxy on a free local port and waits
// until the network is enabled.
func StartTor(ctx context.Context, log logrus.FieldLogger) (*TorManager, error) {
	socksPort, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to pick SOCKS5 port: %w", err)
	}

	dataDir, err := os.MkdirTemp("", "ringnode-tor-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary Tor data directory: %w", err)
	}

	log.Infof("Starting embedded Tor (SOCKS5 on 127.0.0.1:%d)", socksPort)
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	t, err := tor.Start(ctx, &tor.StartConf{
		DataDir:   dataDir,
		ExtraArgs: []string{"--SocksPort", strconv.Itoa(socksPort)},
	})
	if err != nil {
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("failed to start Tor: %w", err)
	}

	if err := t.EnableNetwork(ctx, true); err != nil {
		t.Close()
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("failed to enable Tor network: %w", err)
	}

	return &TorManager{
		TorInstance: t,
		SocksPort:   socksPort,
		DataDir:     dataDir,
		log:         log,
	}, nil
}

// Listen publishes port as a v3 onion service. The returned listener accepts
// connections arriving through Tor; its ID plus ".onion" is the host other
// nodes dial.
func (tm *TorManager) Listen(ctx context.Context, port int) (*tor.OnionService, error) {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	hs, err := tm.TorInstance.Listen(ctx, &tor.ListenConf{
		LocalPort:   port,
		RemotePorts: []int{port},
		Version3:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create onion service: %w", err)
	}
	tm.log.Infof("Onion service published at %s.onion:%d", hs.ID, port)
	return hs, nil
}

// GetSocks5Dialer returns a SOCKS5 dialer for outgoing connections via Tor.
func (tm *TorManager) GetSocks5Dialer() (proxy.Dialer, error) {
	socksAddress := net.JoinHostPort("127.0.0.1", strconv.Itoa(tm.SocksPort))
	dialer, err := proxy.SOCKS5("tcp", socksAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	return dialer, nil
}

// StopTor shuts down the embedded Tor instance and removes its data directory.
func (tm *TorManager) StopTor() error {
	tm.log.Info("Stopping Tor")
	if tm.TorInstance != nil {
		if err := tm.TorInstance.Close(); err != nil {
			return err
		}
	}
	if tm.DataDir != "" {
		os.RemoveAll(tm.DataDir)
	}
	return nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
