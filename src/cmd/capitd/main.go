package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"capit/src/capture"
	"capit/src/config"
	"capit/src/daemon"
	"capit/src/logutil"
	"capit/src/overlay"
	"capit/src/paths"
)

func main() {
	socket := flag.String("socket", paths.SocketPath(), "IPC socket path")
	logFile := flag.String("log-file", paths.LogPath("capitd.log"), "log file path")
	verbose := flag.Bool("v", false, "log to stderr in addition to the log file")
	flag.Parse()

	logutil.Setup(*logFile, *verbose)

	if err := run(*socket); err != nil {
		var busy daemon.ErrAlreadyRunning
		if errors.As(err, &busy) {
			fmt.Fprintf(os.Stderr, "capitd: %v\n", err)
			os.Exit(1)
		}
		log.Printf("capitd: %v", err)
		fmt.Fprintf(os.Stderr, "capitd: %v\n", err)
		os.Exit(1)
	}
}

func run(socket string) error {
	lock, err := daemon.AcquireLock(paths.LockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	// Config is resolved once, before the event loop starts. No hot reload.
	cfg := config.Resolve()
	log.Printf("capitd: theme=%s accent=%#08x output_dir=%s",
		cfg.Theme, cfg.AccentColour, paths.OutputDir(cfg))

	if err := paths.EnsureParentDir(socket); err != nil {
		return fmt.Errorf("socket dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := daemon.New(cfg, capture.NewBackend(), overlay.NewSelectorToolkit())
	if err := loop.Run(ctx, socket); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("capitd: stopped")
	return nil
}
