package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/vinayprograms/agentdir/config"
	"github.com/vinayprograms/agentdir/federation"
	"github.com/vinayprograms/agentdir/service"
	"github.com/vinayprograms/agentdir/shutdown"
)

func main() {
	configPath := flag.String("config", "", "path to agentdir.toml (default: search standard locations)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "agentdir:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	svc, err := service.New(cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	coord := shutdown.NewCoordinator(shutdown.Config{Timeout: 30 * time.Second})

	if svc.Federation != nil {
		mux := http.NewServeMux()
		mux.Handle(federation.SyncPath, federation.SyncHandler(svc.Federation))

		server := &http.Server{
			Addr:              cfg.Node.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintln(os.Stderr, "agentdir: listener:", err)
				coord.Trigger()
			}
		}()

		// Stop answering peers before the service tears down.
		coord.Register("listener", 0, server.Shutdown)
	}

	coord.Register("service", 1, func(ctx context.Context) error {
		svc.Stop()
		return nil
	})

	coord.HandleSignals()
	<-coord.Done()
	return coord.Err()
}
