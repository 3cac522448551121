package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"panelchat-gateway/internal/config"
	"panelchat-gateway/internal/listing"
	providerfactory "panelchat-gateway/internal/provider/factory"
	"panelchat-gateway/internal/server"
)

const serveUsage = `Usage:
  panelchat-gateway serve [--config <path>] [--port <port>]

Flags:
  --config string   Path to YAML configuration file (optional)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	// A .env alongside the binary is a convenience for local runs; its
	// absence is not an error.
	_ = godotenv.Load()

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	factory := providerfactory.New(cfg)
	lister := listing.New(nil)

	srv, err := server.New(cfg, factory, lister)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
