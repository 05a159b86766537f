package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/branchpane/branchpane/internal/config"
	"github.com/branchpane/branchpane/internal/logging"
	"github.com/branchpane/branchpane/internal/web"
)

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", "", "listen address (default: [web].listen or 127.0.0.1:7391)")
	token := fs.String("token", "", "require this token on every connection")
	readOnly := fs.Bool("read-only", false, "disable input, spawn, and close over the API")
	debug := fs.Bool("debug", false, "verbose logging")
	_ = fs.Parse(normalizeArgs(fs, args))

	initLogging(*debug)
	defer logging.Shutdown()

	cfg, _ := config.Load()
	if *listen == "" {
		*listen = cfg.GetWebListen()
	}
	if *token == "" && cfg != nil {
		*token = cfg.Web.Token
	}

	m, db := newLocalManager()
	defer func() {
		if db != nil {
			db.Close()
		}
	}()

	server := web.NewServer(web.Config{
		ListenAddr: *listen,
		Token:      *token,
		ReadOnly:   *readOnly,
		TailBytes:  int64(cfg.GetScrollbackTailBytes()),
	}, m)

	// Graceful shutdown on Ctrl+C / SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.ForComponent(logging.CompWeb).Info("shutting_down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logging.ForComponent(logging.CompWeb).Error("shutdown_failed",
				slog.String("error", err.Error()))
		}
	}()

	fmt.Printf("branchpane serving on %s\n", server.Addr())
	err := server.Start()

	// Panes die with the server process; make their exit orderly
	if closeErr := m.CloseAll(); closeErr != nil {
		logging.ForComponent(logging.CompPane).Warn("close_all_failed",
			slog.String("error", closeErr.Error()))
	}
	if err != nil {
		fatalf("serve: %v", err)
	}
}
