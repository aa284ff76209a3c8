// Command server runs the trade session coordination service: it wires
// the transport-agnostic session/invite/trade core to a concrete
// WebSocket listener, JWT authentication, structured logging, and the
// external settlement client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"braces.dev/errtrace"

	"github.com/tradepeer/tradepeer/authtoken"
	"github.com/tradepeer/tradepeer/internal/applog"
	"github.com/tradepeer/tradepeer/internal/config"
	"github.com/tradepeer/tradepeer/session"
	"github.com/tradepeer/tradepeer/settlement"
	"github.com/tradepeer/tradepeer/trade"
	"github.com/tradepeer/tradepeer/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return errtrace.Wrap(fmt.Errorf("server: load config: %w", err))
	}

	logger := applog.New(cfg.NodeEnv)
	applog.SetDefault(logger)

	verify, err := buildVerifier(cfg, logger)
	if err != nil {
		return errtrace.Wrap(fmt.Errorf("server: build token verifier: %w", err))
	}
	settle := buildSettlement(cfg, logger)

	coordinator := session.New(verify, settle, logger)

	listener, err := transport.Listen(":"+cfg.Port, coordinator, logger)
	if err != nil {
		return errtrace.Wrap(fmt.Errorf("server: listen on %q: %w", cfg.Port, err))
	}
	logger.Info("listening", "addr", listener.Addr().String(), "env", cfg.NodeEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = listener.Serve(ctx)
	logger.Info("server shut down")
	return err
}

func buildVerifier(cfg *config.Config, logger *slog.Logger) (session.TokenVerifier, error) {
	if len(cfg.BackendPublicKeyPEM) == 0 {
		logger.Warn("BACKEND_PUBLIC_KEY unset: running in development passthrough auth mode")
		return authtoken.PassthroughVerifier, nil
	}
	v, err := authtoken.NewVerifier(cfg.BackendPublicKeyPEM)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return v.Verify, nil
}

func buildSettlement(cfg *config.Config, logger *slog.Logger) session.Settlement {
	if len(cfg.PrivateKeyPEM) == 0 || cfg.PerformTradeEndpoint == "" {
		return func(_ context.Context, pair *trade.TradePair) {
			logger.Debug("settlement not configured, discarding completed trade", "trade", pair.ID)
		}
	}

	client, err := settlement.NewClient(cfg.PerformTradeEndpoint, cfg.PrivateKeyPEM, logger)
	if err != nil {
		logger.Error("failed to initialize settlement client, completed trades will not be reported", "error", err)
		return func(_ context.Context, pair *trade.TradePair) {
			logger.Debug("settlement client unavailable, discarding completed trade", "trade", pair.ID)
		}
	}
	return client.Submit
}
