package main

import (
	"errors"
	"flag"
	"os"
)

// cliConfig holds the user-supplied flag values. The interactive shell that
// multiplexes several peers, the SOCKS5 proxy adaptor, and the full
// argument-parsing/help surface are all out of scope here (spec §1) — this
// is just enough flag handling to stand up one engine over one connection.
type cliConfig struct {
	listenAddr string
	dialAddr   string
	logLevel   string
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("talkers-peer", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.listenAddr, "listen", "", "TCP address to accept one inbound connection on (e.g. :4000)")
	fs.StringVar(&cfg.dialAddr, "dial", "", "TCP address to dial out to (e.g. 127.0.0.1:4000)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if (cfg.listenAddr == "") == (cfg.dialAddr == "") {
		return nil, errors.New("exactly one of -listen or -dial must be set")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level: " + cfg.logLevel)
	}

	return cfg, nil
}
