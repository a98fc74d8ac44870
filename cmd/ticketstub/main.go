package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/push"
	"github.com/spec-kit/ticket-sync/internal/stub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := events.NewInMemoryDispatcher()
	state := stub.NewState(dispatcher, logger)
	codes, err := state.SeedDemoData(cfg.Auth.BcryptCost)
	if err != nil {
		logger.Fatal("failed to seed demo data", zap.Error(err))
	}
	logger.Info("demo data seeded", zap.Strings("tracking_codes", codes))

	publisher, healthDeps, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect push broker", zap.Error(err))
	}
	if publisher != nil {
		defer publisher.Close() //nolint:errcheck
		stub.NewAnnouncer(dispatcher, publisher, logger)
	} else {
		logger.Warn("push disabled, clients will not receive invalidations")
	}

	if cfg.Stub.AutoReplyEnabled {
		responder := stub.NewAutoResponder(state, dispatcher, cfg.Stub, logger)
		defer responder.Close()
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	metrics := observability.NewMetrics()

	app := fiber.New()
	stub.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	stub.RegisterRoutes(app, stub.RouteConfig{
		Health:         stub.NewHealthHandler(cfg.App.Name, cfg.App.Version, healthDeps),
		Auth:           stub.NewAuthHandler(state, tokens),
		Tickets:        stub.NewTicketsHandler(state),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

// buildPublisher connects the configured push broker. Provider "none" runs
// the stub without push; clients then see changes only on explicit refresh.
func buildPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (push.Publisher, map[string]stub.Pinger, error) {
	switch strings.ToLower(cfg.Push.Provider) {
	case "redis":
		broker := push.NewRedisBroker(cfg.Redis, logger)
		return broker, map[string]stub.Pinger{"redis": broker}, nil
	case "amqp":
		broker, err := push.NewAMQPBroker(ctx, cfg.AMQP, logger)
		if err != nil {
			return nil, nil, err
		}
		return broker, map[string]stub.Pinger{"amqp": broker}, nil
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown push provider %q", cfg.Push.Provider)
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
