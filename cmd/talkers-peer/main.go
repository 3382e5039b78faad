// Command talkers-peer is a minimal, single-connection demo binary wired
// around internal/talk.Engine. It does not multiplex peers by id, proxy
// through SOCKS5, or provide a full interactive shell — those are the
// out-of-scope collaborators spec.md names; this binary exists only so the
// engine has a runnable, end-to-end consumer, the way the teacher ships
// cmd/rtmp-server alongside its protocol packages.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alxayo/go-talkers/internal/callbacks"
	"github.com/alxayo/go-talkers/internal/logger"
	"github.com/alxayo/go-talkers/internal/talk"
	"github.com/alxayo/go-talkers/internal/transport"
)

// pollInterval is the reference cadence spec.md §4.2 suggests for
// ReadMaybe-driven polling loops.
const pollInterval = 125 * time.Millisecond

// guardedEngine serializes access to a *talk.Engine across the poll loop
// and the stdin loop. spec.md §5 is explicit that an engine is "safe to
// move between workers but not safe to use from more than one worker
// concurrently" — the pushback queue and the transport's blocking-mode
// toggle are unsynchronized internal state, so two goroutines calling
// engine methods at once (one polling ReadMaybe, one doing
// Send+ExpectHash) would race on them. This mirrors the teacher's
// trxMu-guarded nextTrx in internal/rtmp/client/client.go, which
// serializes concurrent transaction-id access on one connection the same
// way.
type guardedEngine struct {
	mu  sync.Mutex
	eng *talk.Engine
}

func (g *guardedEngine) ReadMaybe() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eng.ReadMaybe()
}

func (g *guardedEngine) Send(text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eng.Send(text)
}

func (g *guardedEngine) ExpectHash() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eng.ExpectHash()
}

func (g *guardedEngine) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eng.Close()
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level, using default\n")
	}
	log := logger.Logger().With("component", "cli")

	conn, initiator, err := connect(cfg)
	if err != nil {
		log.Error("failed to establish connection", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	eng := talk.New(transport.New(conn), callbacks.NewLoggingSink(log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return handshake(eng, initiator)
	})

	if err := g.Wait(); err != nil {
		log.Error("handshake failed", "error", err)
		_ = eng.Close()
		os.Exit(1)
	}
	log.Info("session open", "peer", conn.RemoteAddr().String())

	guarded := &guardedEngine{eng: eng}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error { return pollLoop(gctx, guarded) })
	g.Go(func() error { return stdinLoop(gctx, guarded) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Error("session ended", "error", err)
	}
	_ = guarded.Close()
}

// connect dials out or accepts one inbound connection depending on which
// flag was set, reporting whether this side initiated the TCP connection
// (which determines handshake ordering per spec.md §4.2).
func connect(cfg *cliConfig) (net.Conn, bool, error) {
	if cfg.dialAddr != "" {
		conn, err := net.Dial("tcp", cfg.dialAddr)
		return conn, true, err
	}
	ln, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		return nil, false, err
	}
	defer ln.Close()
	conn, err := ln.Accept()
	return conn, false, err
}

// handshake follows spec.md §4.2's ordering rule: the initiator sends then
// expects; the acceptor expects then sends.
func handshake(eng *talk.Engine, initiator bool) error {
	if initiator {
		if err := eng.PerformHandshake(); err != nil {
			return err
		}
		return eng.ExpectHandshake()
	}
	if err := eng.ExpectHandshake(); err != nil {
		return err
	}
	return eng.PerformHandshake()
}

// pollLoop drives ReadMaybe on the reference cadence until ctx is canceled.
func pollLoop(ctx context.Context, eng *guardedEngine) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := eng.ReadMaybe(); err != nil {
				return err
			}
		}
	}
}

// stdinLoop reads lines from stdin and sends each as a message, pairing
// every send with an expect_hash.
func stdinLoop(ctx context.Context, eng *guardedEngine) error {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := eng.Send(line); err != nil {
				return err
			}
			if err := eng.ExpectHash(); err != nil {
				logger.Warn("no ack for sent message", "error", err)
			}
		}
	}
}
