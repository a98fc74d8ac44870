// ticketwatch observes one ticket live: it logs into the stub backend,
// renders the thread on every snapshot change, and sends stdin lines as
// replies. `/refresh` forces a refetch, Ctrl-D or SIGINT exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/api"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/engine"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/push"
	"github.com/spec-kit/ticket-sync/internal/store"
)

func main() {
	// Interactive tool: humans read the log lines between renders.
	if os.Getenv("LOG_FORMAT") == "" {
		os.Setenv("LOG_FORMAT", "console")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	trackingCode := cfg.Watch.TrackingCode
	if len(os.Args) > 1 {
		trackingCode = os.Args[1]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := api.NewHTTPClient(cfg.API, logger)
	if cfg.API.Token == "" {
		loginCtx, loginCancel := context.WithTimeout(ctx, cfg.API.RequestTimeout())
		err := client.Login(loginCtx, cfg.API.Email, cfg.API.Password)
		loginCancel()
		if err != nil {
			logger.Fatal("login failed", zap.Error(err))
		}
	}

	transport, err := buildTransport(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect push broker", zap.Error(err))
	}

	view := newThreadView(os.Stdout)
	eng := engine.New(cfg.Sync, engine.Dependencies{
		Client:    client,
		Transport: transport,
		Logger:    logger,
		Metrics:   observability.NewMetrics(),
		Notify:    view.notice,
	})

	update, stop, err := eng.Observe(ctx, trackingCode, view.render)
	if err != nil {
		eng.Close()
		logger.Fatal("cannot observe ticket",
			zap.String("tracking_code", trackingCode),
			zap.Error(err))
	}
	view.render(update)

	inputDone := make(chan struct{})
	go readReplies(ctx, eng, trackingCode, view, inputDone)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-inputDone:
		logger.Info("input closed, shutting down")
	}

	stop()
	eng.Close()
	if closer, ok := transport.(io.Closer); ok {
		_ = closer.Close()
	}
}

// readReplies turns stdin lines into replies until EOF.
func readReplies(ctx context.Context, eng *engine.Engine, trackingCode string, view *threadView, done chan<- struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/refresh":
			if err := eng.Refresh(ctx, trackingCode); err != nil {
				view.status("refresh failed: " + err.Error())
			}
		case line == "/quit":
			return
		default:
			if err := eng.SendMessage(ctx, trackingCode, line); err != nil {
				switch {
				case errors.Is(err, engine.ErrReplyPending):
					view.status("previous reply is still awaiting confirmation")
				case errors.Is(err, engine.ErrTicketFinal):
					view.status("ticket no longer accepts replies")
				default:
					view.status("send failed: " + err.Error())
				}
			}
		}
	}
}

func buildTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (push.Transport, error) {
	switch strings.ToLower(cfg.Push.Provider) {
	case "redis":
		return push.NewRedisBroker(cfg.Redis, logger), nil
	case "amqp":
		broker, err := push.NewAMQPBroker(ctx, cfg.AMQP, logger)
		if err != nil {
			return nil, err
		}
		return broker, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown push provider %q", cfg.Push.Provider)
	}
}

// threadView renders snapshots as plain text. A mutex keeps concurrent
// renders from interleaving; each render is written in one call.
type threadView struct {
	mu  sync.Mutex
	out io.Writer
}

func newThreadView(out io.Writer) *threadView {
	return &threadView{out: out}
}

func (v *threadView) render(u store.Update) {
	if u.Ticket == nil {
		return
	}
	t := u.Ticket

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s | %s [%s/%s]", t.TrackingCode, t.Subject, t.Status, t.Priority)
	if u.Stale {
		b.WriteString(" (STALE)")
	}
	b.WriteByte('\n')
	if t.AssignedAgent != nil {
		fmt.Fprintf(&b, "assigned to %s\n", *t.AssignedAgent)
	}
	if len(t.Communications) == 0 {
		b.WriteString("  (no messages yet)\n")
	}
	for _, c := range t.Communications {
		marker := " "
		if c.Pending {
			marker = "*"
		}
		fmt.Fprintf(&b, " %s %s %-9s %s\n", marker, c.CreatedAt.Format("15:04:05"), c.Author, c.Body)
	}
	if t.ResolutionNotes != nil && *t.ResolutionNotes != "" {
		fmt.Fprintf(&b, "resolution: %s\n", *t.ResolutionNotes)
	}
	b.WriteString("reply> ")

	v.mu.Lock()
	fmt.Fprint(v.out, b.String())
	v.mu.Unlock()
}

func (v *threadView) notice(n engine.Notice) {
	switch n.Kind {
	case engine.NoticeReplyRejected:
		v.status(fmt.Sprintf("reply rejected, rolled back: %v", n.Err))
	case engine.NoticeSnapshotStale:
		v.status("backend unreachable, showing last known state")
	}
}

func (v *threadView) status(msg string) {
	v.mu.Lock()
	fmt.Fprintf(v.out, "!! %s\n", msg)
	v.mu.Unlock()
}
