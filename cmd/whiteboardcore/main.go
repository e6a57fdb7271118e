// Command whiteboardcore starts the coordination core: it wires config,
// the engine, optional Postgres/Redis persistence, the WebSocket
// transport, Prometheus metrics, and the housekeeper sweep loop, then
// serves HTTP until terminated. Grounded in the teacher's main.go (same
// connect-db/connect-redis/build-server/register-routes/serve shape),
// trimmed of the room/admin/invite/export wiring those routes carried
// (see DESIGN.md for that non-goal's disposition).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"whiteboardcore/internal/config"
	"whiteboardcore/internal/engine"
	"whiteboardcore/internal/metrics"
	"whiteboardcore/store/postgres"
	"whiteboardcore/store/redisbus"
	"whiteboardcore/transport/ws"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	eng := engine.New(cfg, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if dsn := os.Getenv("WHITEBOARD_POSTGRES_DSN"); dsn != "" {
		store, err := postgres.Open(dsn)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatalf("postgres: ensure schema: %v", err)
		}
		log.Println("connected to PostgreSQL persistence store")
	} else {
		log.Println("WHITEBOARD_POSTGRES_DSN not set, running without durable persistence")
	}

	if os.Getenv("WHITEBOARD_REDIS_ADDR") != "" || os.Getenv("REDIS_HOST") != "" {
		redisClient, err := redisbus.Connect()
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			log.Fatalf("redis: ping: %v", err)
		}
		log.Println("connected to Redis event bus")
	}

	hub := ws.NewHub(eng)
	go hub.Run(ctx)
	go eng.Housekeeper().Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/board/", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		boardID := r.URL.Query().Get("board")
		if boardID == "" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
		switch eng.BoardHealth(boardID) {
		case engine.HealthCritical:
			w.WriteHeader(http.StatusServiceUnavailable)
		case engine.HealthStressed:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})

	addr := os.Getenv("WHITEBOARD_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("whiteboardcore listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	cancel()
	eng.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}
