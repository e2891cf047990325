// ABOUTME: Fake agent endpoint for local development and end-to-end checks
// ABOUTME: Usage: fake-agent [--addr :9999] [--mode echo|fail|error] [--fail-first N] [--delay 2s]

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("fake-agent", pflag.ContinueOnError)
	addr := flags.String("addr", "localhost:9999", "listen address")
	mode := flags.String("mode", string(ModeEcho), "reply mode: echo, fail or error")
	failFirst := flags.Int64("fail-first", 0, "answer the first N calls with a failed task")
	delay := flags.Duration("delay", 0, "wait before answering")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	a := &agent{mode: Mode(*mode), failFirst: *failFirst, delay: *delay, logger: logger}
	if !a.mode.valid() {
		fmt.Fprintf(os.Stderr, "Error: unknown mode %q\n", *mode)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, *addr, newRouter(a), logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake agent listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
