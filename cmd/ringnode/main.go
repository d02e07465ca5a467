package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/busybox42/ringnode/internal/config"
	"github.com/busybox42/ringnode/internal/store"
	"github.com/busybox42/ringnode/pkg/client"
	"github.com/busybox42/ringnode/pkg/crypto"
	"github.com/busybox42/ringnode/pkg/network"
	"github.com/busybox42/ringnode/pkg/ring"
	"github.com/busybox42/ringnode/pkg/tor"
	"github.com/busybox42/ringnode/pkg/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

var log = logrus.New()

func initLogger(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	log.SetOutput(os.Stdout)
	log.SetLevel(level)
	return nil
}

type RingServer struct {
	config     *config.Config
	identity   types.Identity
	key        *crypto.Key
	catalog    *store.Local
	transport  *network.Transport
	node       *ring.Node
	torManager *tor.TorManager
	entry      *logrus.Entry
}

func newRingServer(ctx context.Context, cfg *config.Config) (*RingServer, error) {
	srv := &RingServer{
		config:  cfg,
		catalog: store.NewLocal(),
		entry:   log.WithField("node", cfg.NodeID),
	}

	secret, err := cfg.SecretBytes()
	if err != nil {
		return nil, err
	}
	if srv.key, err = crypto.DeriveKey(secret); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	if cfg.Tor {
		if err := srv.initializeTor(ctx); err != nil {
			return nil, err
		}
	}

	if srv.identity, err = cfg.Identity(); err != nil {
		srv.Shutdown()
		return nil, err
	}
	srv.initializeCatalog()

	if err := srv.initializeNetwork(ctx); err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("failed to initialize network: %w", err)
	}

	srv.entry.Infof("Node started. Host: %s, Port: %d, Successor: %s, Predecessor: %s",
		srv.identity.Host, srv.identity.Port, srv.identity.Successor, srv.identity.Predecessor)
	return srv, nil
}

func (srv *RingServer) initializeTor(ctx context.Context) error {
	tm, err := tor.StartTor(ctx, srv.entry)
	if err != nil {
		return err
	}
	srv.torManager = tm
	return nil
}

// initializeCatalog materialises the simulated files this node owns.
func (srv *RingServer) initializeCatalog() {
	ordinal, err := ring.ParseOrdinal(srv.identity.ID)
	if err != nil {
		srv.entry.WithError(err).Warn("Cannot derive local files")
		return
	}
	srv.catalog.Seed(ring.FileNames(ordinal))
	min, max := ring.Range(ordinal)
	srv.entry.Infof("Local files (simulated): %d to %d", min, max)
}

func (srv *RingServer) dialer() (proxy.Dialer, error) {
	switch {
	case srv.torManager != nil:
		return srv.torManager.GetSocks5Dialer()
	case srv.config.Proxy != "":
		u, err := url.Parse(srv.config.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		return proxy.FromURL(u, proxy.Direct)
	default:
		return proxy.Direct, nil
	}
}

func (srv *RingServer) initializeNetwork(ctx context.Context) error {
	dialer, err := srv.dialer()
	if err != nil {
		return err
	}

	srv.transport = network.NewTransport(&network.Config{
		Bind:        srv.config.Bind,
		Port:        srv.identity.Port,
		Key:         srv.key,
		Dialer:      dialer,
		DialTimeout: srv.config.DialTimeout,
		MaxLineSize: srv.config.MaxLineSize,
		Logger:      srv.entry,
	})

	if srv.torManager != nil {
		hs, err := srv.torManager.Listen(ctx, srv.identity.Port)
		if err != nil {
			return err
		}
		// Replies must come back through Tor, so the onion address is the origin host.
		srv.identity.Host = hs.ID + ".onion"
		srv.newNode()
		srv.transport.Serve(hs)
		return nil
	}

	srv.newNode()
	return srv.transport.Start()
}

func (srv *RingServer) newNode() {
	srv.node = ring.NewNode(&ring.Config{
		Self:       srv.identity,
		Sender:     srv.transport,
		Catalog:    srv.catalog,
		Logger:     log,
		PendingTTL: srv.config.PendingTTL,
	})
	srv.transport.Handle(func(ctx context.Context, payload []byte) {
		srv.node.HandlePayload(ctx, payload)
	})
}

func (srv *RingServer) status() string {
	id := srv.identity
	ordinal, _ := ring.ParseOrdinal(id.ID)
	min, max := ring.Range(ordinal)
	return fmt.Sprintf("Node %s at %s owns %d..%d | successor %s | predecessor %s | pending %d",
		id.ID, id.Endpoint(), min, max, id.Successor, id.Predecessor, len(srv.node.Pending()))
}

func (srv *RingServer) Shutdown() error {
	if srv.transport != nil {
		if err := srv.transport.Stop(); err != nil {
			srv.entry.Errorf("Error stopping transport: %v", err)
		}
	}
	if srv.torManager != nil {
		if err := srv.torManager.StopTor(); err != nil {
			srv.entry.Errorf("Error stopping Tor: %v", err)
		}
	}
	return nil
}

const usage = `Usage: ringnode [flags]
       ringnode [flags] <id> <port> <successorHost> <successorPort> <predecessorHost> <predecessorPort> <myIp>
Example: ringnode P0 9000 127.0.0.1 9001 127.0.0.1 9002 127.0.0.1
`

// loadConfig merges the config file, flags and positional arguments.
func loadConfig(args []string, stderr io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet("ringnode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	path := fs.String("config", "", "Path to a YAML config file")
	id := fs.String("id", "", "Node id (P<n>)")
	host := fs.String("host", "", "Host other nodes use to reach this node")
	bind := fs.String("bind", "", "Local address to listen on")
	port := fs.Int("port", 0, "Port to listen on")
	succ := fs.String("successor", "", "Successor host:port")
	pred := fs.String("predecessor", "", "Predecessor host:port")
	secret := fs.String("secret", "", "Shared ring secret (or "+config.SecretEnv+")")
	proxyURL := fs.String("proxy", "", "Dial neighbors through this proxy, e.g. socks5://127.0.0.1:9050")
	useTor := fs.Bool("tor", false, "Carry ring traffic over an embedded Tor")
	level := fs.String("log-level", "", "Log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			return nil, err
		}
	}

	if rest := fs.Args(); len(rest) > 0 {
		if len(rest) != 7 {
			fs.Usage()
			return nil, fmt.Errorf("expected 7 positional arguments, got %d", len(rest))
		}
		p, err := strconv.Atoi(rest[1])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", rest[1])
		}
		cfg.NodeID = rest[0]
		cfg.Port = p
		cfg.Successor = rest[2] + ":" + rest[3]
		cfg.Predecessor = rest[4] + ":" + rest[5]
		cfg.Host = rest[6]
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "id":
			cfg.NodeID = *id
		case "host":
			cfg.Host = *host
		case "bind":
			cfg.Bind = *bind
		case "port":
			cfg.Port = *port
		case "successor":
			cfg.Successor = *succ
		case "predecessor":
			cfg.Predecessor = *pred
		case "secret":
			cfg.Secret = *secret
		case "proxy":
			cfg.Proxy = *proxyURL
		case "tor":
			cfg.Tor = *useTor
		case "log-level":
			cfg.LogLevel = *level
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := initLogger(cfg); err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newRingServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}
	defer srv.Shutdown()

	cli := client.NewCLI(srv.node, srv.catalog, cfg.NodeID+"> ", os.Stdin, os.Stdout, srv.entry)
	cli.SetStatus(srv.status)
	if err := cli.Run(ctx); err != nil {
		srv.entry.Errorf("Console error: %v", err)
	}
	srv.entry.Info("Shutting down")
}
