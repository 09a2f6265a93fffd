package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"ardu-agent/config"
	"ardu-agent/internal/brain"
	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
	"ardu-agent/internal/engagement"
	"ardu-agent/internal/events"
	"ardu-agent/internal/review"
	"ardu-agent/internal/session"
	"ardu-agent/internal/sites/ardu"
	"ardu-agent/internal/storage"
	"ardu-agent/internal/telemetry"
	"ardu-agent/internal/ui/console"
	"ardu-agent/internal/ui/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}
	initLogger(cfg)
	slog.Info("🚀 Starting ARDU agent", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTracer(ctx, cfg.OtelEndpoint, cfg.Env)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	store, closeStore := openStorage(ctx, cfg)
	defer closeStore()

	sess := session.NewManager(store)
	client := ardu.NewClient(cfg.BaseURL, sess, telemetry.NewHTTPClient(2*cfg.RequestTimeout))

	if len(os.Args) > 1 && os.Args[1] == "register" {
		os.Exit(register(ctx, client, os.Args[2:]))
	}

	if err := signIn(ctx, cfg, client, sess); err != nil {
		slog.Error("❌ Sign-in failed", "error", err)
		os.Exit(1)
	}
	user, _ := sess.CurrentUser()
	slog.Info("✅ Signed in", "user", user.Handle(), "admin", user.IsAdmin())

	lines := readLines(os.Stdin)
	term := console.NewTerminal(os.Stdout, lines)

	syncer := engagement.NewSynchronizer(client, sess, engagement.Options{
		Timeout:         cfg.RequestTimeout,
		CommentPageSize: cfg.CommentPageSize,
		Notifiers:       []ports.Notifier{term},
	})

	var confirmer ports.Interaction = term
	if cfg.NatsUrl != "" {
		nc, err := nats.Connect(cfg.NatsUrl, nats.Name(telemetry.ServiceName))
		if err != nil {
			slog.Warn("NATS unavailable, events stay local", "error", err)
		} else {
			defer nc.Close()
			syncer.AddNotifier(events.NewNatsPublisher(nc, user.Handle()))
			slog.Info("✅ Connected to NATS")
		}
	}
	if cfg.TelegramEnabled() {
		tg, err := telegram.NewTelegramUI(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			slog.Warn("Telegram unavailable", "error", err)
		} else {
			defer tg.Stop()
			syncer.AddNotifier(tg)
			confirmer = tg
			slog.Info("✅ Telegram connected")
		}
	}

	var reviewer ports.Reviewer
	if cfg.GeminiAPIKey != "" {
		if r, err := brain.NewGeminiReviewer(ctx, cfg.GeminiAPIKey); err != nil {
			slog.Warn("advisory reviewer disabled", "error", err)
		} else {
			reviewer = r
		}
	}
	queue := review.NewQueue(client, store, reviewer, confirmer, sess)

	// warm start
	if posts, err := store.LoadSnapshot(ctx); err != nil {
		slog.Warn("stored snapshot unreadable", "error", err)
	} else if len(posts) > 0 {
		syncer.Merge(posts)
		term.Printf("📦 %d posts from last session (refreshing…)\n", len(posts))
	}
	syncer.AddNotifier(&snapshotSaver{store: store, source: syncer})

	if err := syncer.Refresh(ctx); err != nil {
		slog.Warn("initial refresh failed", "error", err)
		if errors.Is(err, domain.ErrSessionExpired) {
			_ = sess.End(context.Background())
			os.Exit(1)
		}
	}
	term.RenderFeed(syncer.View())

	refresher := syncer.Schedule(ctx, cfg.PollInterval)
	defer refresher.Stop()

	app := &app{
		client: client,
		sync:   syncer,
		sess:   sess,
		queue:  queue,
		term:   term,
	}
	app.printHelp()

	for {
		term.Printf("> ")
		select {
		case <-ctx.Done():
			slog.Info("🛑 Shutting down")
			return
		case <-term.Expired():
			refresher.Stop()
			if err := sess.End(context.Background()); err != nil {
				slog.Warn("failed to clear session", "error", err)
			}
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := app.handle(ctx, line); quit {
				refresher.Stop()
				return
			}
		}
	}
}

func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStorage tries PostgreSQL, then Redis, then falls back to the JSON file.
func openStorage(ctx context.Context, cfg *config.Config) (ports.Storage, func()) {
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresStorage(ctx, cfg.DatabaseURL)
		if err == nil {
			slog.Info("🐘 Storage: PostgreSQL Connected")
			return pg, pg.Close
		}
		slog.Warn("PostgreSQL unavailable", "error", err)
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			slog.Warn("redis tracing disabled", "error", err)
		}
		rs, err := storage.NewRedisStorage(ctx, rdb)
		if err == nil {
			slog.Info("🟥 Storage: Redis Connected")
			return rs, func() { _ = rdb.Close() }
		}
		_ = rdb.Close()
		slog.Warn("Redis unavailable", "error", err)
	}
	js, err := storage.NewJSONStorage(cfg.StoragePath)
	if err != nil {
		slog.Error("Unable to open storage", "path", cfg.StoragePath, "error", err)
		os.Exit(1)
	}
	slog.Info("📄 Storage: JSON File Mode", "path", cfg.StoragePath)
	return js, func() {}
}

func signIn(ctx context.Context, cfg *config.Config, client *ardu.Client, sess *session.Manager) error {
	ok, err := sess.Restore(ctx)
	if err != nil {
		slog.Warn("stored session unreadable", "error", err)
	}
	if ok {
		return nil
	}
	if cfg.Email == "" || cfg.Password == "" {
		return errors.New("no stored session and ARDU_EMAIL/ARDU_PASSWORD not set")
	}
	s, err := client.Login(ctx, cfg.Email, cfg.Password, cfg.Admin)
	if err != nil {
		return err
	}
	return sess.Begin(ctx, s)
}

func register(ctx context.Context, client *ardu.Client, args []string) int {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: ardu-agent register <name> <email> <password>")
		return 2
	}
	u, err := client.Register(ctx, ardu.RegisterRequest{Name: args[0], Email: args[1], Password: args[2]})
	if err != nil {
		fmt.Fprintln(os.Stderr, "registration failed:", err)
		return 1
	}
	fmt.Printf("✅ Registered %s. An admin must approve the account before you can log in.\n", u.Email)
	return 0
}

func readLines(f *os.File) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// snapshotSaver persists the confirmed feed after each successful refresh.
type snapshotSaver struct {
	store  ports.Storage
	source interface{ Snapshot() []domain.Post }
}

func (s *snapshotSaver) Notify(ctx context.Context, ev domain.EngagementEvent) {
	if ev.Kind != domain.EventUpdated || ev.PostID != "" {
		return
	}
	if err := s.store.SaveSnapshot(context.WithoutCancel(ctx), s.source.Snapshot()); err != nil {
		slog.Warn("failed to save feed snapshot", "error", err)
	}
}
