package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/sockpress. register installs the
// application's HTTP and socket routes before the server starts.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(register func(*App) error) error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	if register != nil {
		if err := register(a); err != nil {
			_ = a.Close()
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
