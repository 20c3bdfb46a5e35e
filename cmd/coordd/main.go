// coordd is the roam coordination edge. It terminates WebSocket connections,
// registers anonymous sessions, and drives matching, rooms, negotiation
// relay, and moderation through the shared Redis/NATS backbone.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/roam-chat/roam/internal/client"
	"github.com/roam-chat/roam/internal/messaging"
	"github.com/roam-chat/roam/internal/moderation"
	"github.com/roam-chat/roam/internal/presence"
	"github.com/roam-chat/roam/internal/queue"
	"github.com/roam-chat/roam/internal/ratelimit"
	"github.com/roam-chat/roam/internal/room"
	"github.com/roam-chat/roam/internal/ws"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded configuration from .env")
	}

	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsConfig.Name = "roam-coordd"
	bus, err := messaging.Connect(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	sessions, err := presence.Connect(redisAddr)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	rdb := sessions.Client()
	queueStore := queue.NewStore(rdb)
	rooms := room.NewStore(rdb)
	ledger := moderation.NewLedger(rdb)
	limiter := ratelimit.NewLimiter(rdb)

	log.Printf("roam coordination edge starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)

	deps := client.Deps{
		Sessions: sessions,
		Queue:    queueStore,
		Matcher:  queue.NewMatcher(queueStore, sessions),
		Rooms:    rooms,
		Bus:      bus,
		Ledger:   ledger,
		Filter:   moderation.NewFilter(),
		Limiter:  limiter,
		Buffer:   room.NewMessageBuffer(),
	}
	manager := client.NewManager(deps)

	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(config, sessions, dispatcher.Dispatch)
	server.SetLimiter(limiter)
	dispatcher.SetServer(server)
	manager.Bind(server, dispatcher)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		bus.Close()
		if err := sessions.Close(); err != nil {
			log.Printf("presence store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
