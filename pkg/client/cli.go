package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/busybox42/ringnode/pkg/protocol"
	"github.com/busybox42/ringnode/pkg/ring"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidInput = errors.New("invalid input, try again")
	ErrQuit         = errors.New("quit")
)

// Searcher is the part of a ring node the console drives.
type Searcher interface {
	Search(ctx context.Context, fileID string, dir protocol.Direction) (ring.Outcome, error)
	Pending() []ring.PendingSearch
}

// Lister lists the node's local files.
type Lister interface {
	List() []string
}

// CLI is the interactive command loop of a ring node. It runs alongside the
// transport's accept loop and only ever reads the node's identity.
type CLI struct {
	node   Searcher
	files  Lister
	status func() string
	prompt string
	in     io.Reader
	out    io.Writer
	log    logrus.FieldLogger
}

func NewCLI(node Searcher, files Lister, prompt string, in io.Reader, out io.Writer, log logrus.FieldLogger) *CLI {
	return &CLI{
		node:   node,
		files:  files,
		prompt: prompt,
		in:     in,
		out:    out,
		log:    log,
	}
}

// SetStatus installs the text printed by the STATUS command.
func (cli *CLI) SetStatus(fn func() string) {
	cli.status = fn
}

// RunLine executes one console command. It returns ErrQuit for SAIR/EXIT
// and ErrInvalidInput for anything it does not understand.
func (cli *CLI) RunLine(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	switch strings.ToUpper(parts[0]) {
	case "SEARCH":
		if len(parts) != 3 {
			return cli.invalid(line)
		}
		dir, err := protocol.ParseDirection(parts[2])
		if err != nil {
			return cli.invalid(line)
		}
		out, err := cli.node.Search(ctx, parts[1], dir)
		if err != nil {
			cli.log.WithError(err).Error("Search rejected")
			fmt.Fprintf(cli.out, "Search rejected: %v\n", err)
			return err
		}
		fmt.Fprintf(cli.out, "Search for %s %s\n", parts[1], out)

	case "FILES":
		names := cli.files.List()
		if len(names) == 0 {
			fmt.Fprintln(cli.out, "No local files")
			return nil
		}
		fmt.Fprintf(cli.out, "Local files (%d): %s\n", len(names), strings.Join(names, " "))

	case "PENDING":
		pending := cli.node.Pending()
		if len(pending) == 0 {
			fmt.Fprintln(cli.out, "No pending searches")
			return nil
		}
		for _, p := range pending {
			fmt.Fprintf(cli.out, "[%s] %s %s\n", p.Started.Format("15:04:05"), p.FileID, p.Direction)
		}

	case "STATUS":
		if cli.status != nil {
			fmt.Fprintln(cli.out, cli.status())
		}

	case "HELP":
		fmt.Fprintln(cli.out, "Available commands:")
		fmt.Fprintln(cli.out, "  SEARCH <file> HORARIO|ANTIHORARIO  - Locate a file around the ring")
		fmt.Fprintln(cli.out, "  FILES                             - List files held by this node")
		fmt.Fprintln(cli.out, "  PENDING                           - Show searches waiting for a reply")
		fmt.Fprintln(cli.out, "  STATUS                            - Show node identity and neighbors")
		fmt.Fprintln(cli.out, "  HELP                              - Show this help message")
		fmt.Fprintln(cli.out, "  SAIR | EXIT                       - Leave the console")

	case "SAIR", "EXIT":
		return ErrQuit

	default:
		return cli.invalid(line)
	}
	return nil
}

// Run reads commands until EOF, SAIR/EXIT or ctx is done.
func (cli *CLI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(cli.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	fmt.Fprintln(cli.out, "Commands: SEARCH <file> HORARIO|ANTIHORARIO | FILES | PENDING | STATUS | HELP | SAIR")
	for {
		fmt.Fprint(cli.out, cli.prompt)
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if err := cli.RunLine(ctx, line); errors.Is(err, ErrQuit) {
				return nil
			}
		}
	}
}

func (cli *CLI) invalid(line string) error {
	cli.log.WithField("input", line).Warn("Invalid console input")
	fmt.Fprintln(cli.out, "Invalid input, try again. Type HELP for usage.")
	return ErrInvalidInput
}
