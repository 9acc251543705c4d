package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/emberwood/gameserver/internal/broker"
	"github.com/emberwood/gameserver/internal/bus"
	"github.com/emberwood/gameserver/internal/conn"
	"github.com/emberwood/gameserver/internal/dispatch"
	"github.com/emberwood/gameserver/internal/dlq"
	"github.com/emberwood/gameserver/internal/events"
	"github.com/emberwood/gameserver/internal/lucidity"
	"github.com/emberwood/gameserver/internal/metrics"
	"github.com/emberwood/gameserver/internal/mute"
	"github.com/emberwood/gameserver/internal/presence"
	"github.com/emberwood/gameserver/internal/ratelimit"
	"github.com/emberwood/gameserver/internal/subject"
	"github.com/emberwood/gameserver/internal/world"
)

func main() {
	log.Println("Starting game relay service...")

	listenAddr := envStr("LISTEN_ADDR", ":8090")

	// --- broker config ---
	brokerCfg := broker.DefaultConfig()
	brokerCfg.URL = envStr("NATS_URL", brokerCfg.URL)
	brokerCfg.Name = envStr("BROKER_NAME", brokerCfg.Name)
	brokerCfg.MaxReconnects = envInt("BROKER_MAX_RECONNECTS", brokerCfg.MaxReconnects)
	brokerCfg.ConnectTimeout = envDur("BROKER_CONNECT_TIMEOUT", brokerCfg.ConnectTimeout)
	brokerCfg.PingInterval = envDur("BROKER_PING_INTERVAL", brokerCfg.PingInterval)
	brokerCfg.MaxPingsOut = envInt("BROKER_MAX_PINGS_OUT", brokerCfg.MaxPingsOut)
	brokerCfg.ReconnectWait = envDur("BROKER_RECONNECT_WAIT", brokerCfg.ReconnectWait)
	brokerCfg.PoolSize = envInt("BROKER_POOL_SIZE", brokerCfg.PoolSize)
	brokerCfg.BatchSize = envInt("BROKER_BATCH_SIZE", brokerCfg.BatchSize)
	brokerCfg.BatchFlushInterval = envDur("BROKER_BATCH_FLUSH_INTERVAL", brokerCfg.BatchFlushInterval)
	brokerCfg.ValidateSubjects = envBool("SUBJECT_VALIDATION", brokerCfg.ValidateSubjects)
	brokerCfg.StrictSubjects = envBool("SUBJECT_VALIDATION_STRICT", brokerCfg.StrictSubjects)

	// --- Redis ---
	redisAddr := envStr("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- Postgres (lucidity tiers) ---
	dsn := envStr("POSTGRES_DSN", "postgres://localhost:5432/gameserver?sslmode=disable")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("failed to open Postgres: %v", err)
	}
	pingCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	cancel()
	if err := lucidity.Migrate(db); err != nil {
		log.Fatalf("failed to migrate lucidity schema: %v", err)
	}

	// --- core components ---
	collector := metrics.NewCollector()
	subjects := &subject.Builder{
		Enabled: brokerCfg.ValidateSubjects,
		Strict:  brokerCfg.StrictSubjects,
	}

	client := broker.New(brokerCfg, subjects, collector)
	connectWithRetry(client, brokerCfg.ReconnectWait)

	registry := conn.NewRegistry()
	directory := world.NewDirectory(rdb)
	muteStore := mute.NewStore(rdb)
	tierStore := lucidity.NewStore(db)
	eventBus := bus.New()
	limiter := ratelimit.NewLimiter(rdb)
	pipeline := dlq.NewPipeline(dlq.NewStore(rdb), collector, dlq.DefaultRetryConfig())

	// The engine and presence tracker reference each other: the tracker
	// feeds subzone messages into the engine, and the engine resolves
	// local-chat targets through the tracker.
	var engine *dispatch.Engine

	chatHandler := func(ctx context.Context, data map[string]any) {
		if err := pipeline.Process(ctx, data, func(ctx context.Context, msg map[string]any) error {
			return engine.HandleChatMessage(ctx, msg)
		}); err != nil {
			log.Printf("[relayd] chat message dead-lettered: %v", err)
		}
	}

	tracker, err := presence.NewTracker(subjects, client, directory, chatHandler)
	if err != nil {
		log.Fatalf("failed to create presence tracker: %v", err)
	}
	engine = dispatch.NewEngine(directory, tracker, registry, muteStore, tierStore, limiter, collector)
	dispatcher := events.NewDispatcher(directory, registry, directory, tracker, eventBus)

	// --- subscriptions ---
	chatSubjects := []string{
		subject.SayRooms,
		subject.EmoteRooms,
		subject.PoseRooms,
		subject.WhisperPlayers,
		subject.Global,
		subject.System,
	}
	for _, s := range chatSubjects {
		if err := client.Subscribe(s, chatHandler); err != nil {
			log.Fatalf("failed to subscribe %s: %v", s, err)
		}
	}
	if err := client.Subscribe(subject.Events, func(ctx context.Context, data map[string]any) {
		if err := pipeline.Process(ctx, data, dispatcher.HandleEventMessage); err != nil {
			log.Printf("[relayd] event message dead-lettered: %v", err)
		}
	}); err != nil {
		log.Fatalf("failed to subscribe %s: %v", subject.Events, err)
	}

	// --- metrics/health endpoint ---
	startedAt := time.Now()
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		snap := collector.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Status      string  `json:"status"`
			Broker      string  `json:"broker"`
			Health      float64 `json:"connection_health"`
			Connections int     `json:"connections"`
			Uptime      string  `json:"uptime"`
		}{
			Status:      "ok",
			Broker:      client.State().String(),
			Health:      snap.ConnectionHealth,
			Connections: registry.Count(),
			Uptime:      time.Since(startedAt).Round(time.Second).String(),
		})
	})
	httpServer := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	log.Printf("game relay running")
	log.Printf("  listen_addr: %s", listenAddr)
	log.Printf("  nats_url:    %s", brokerCfg.URL)
	log.Printf("  redis_addr:  %s", redisAddr)
	log.Printf("  pool_size:   %d", brokerCfg.PoolSize)

	// --- shutdown ---
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = httpServer.Shutdown(shutdownCtx)
	cancel()

	client.Disconnect()
	pipeline.Wait()
	registry.CloseAll()
	_ = rdb.Close()
	_ = db.Close()
	log.Println("game relay stopped")
}

// connectWithRetry attempts the initial broker connection, honoring the
// state machine's backoff gating between attempts.
func connectWithRetry(client *broker.Client, wait time.Duration) {
	const maxAttempts = 10
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if client.Connect(context.Background()) {
			return
		}
		log.Printf("broker connect attempt %d/%d failed, retrying in %s", attempt, maxAttempts, wait)
		time.Sleep(wait)
	}
	log.Fatalf("failed to connect to broker after %d attempts", maxAttempts)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
