package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/postforge/autopost/internal/adapter"
	"github.com/postforge/autopost/internal/config"
	"github.com/postforge/autopost/internal/dispatch"
	"github.com/postforge/autopost/internal/httpserver"
	"github.com/postforge/autopost/internal/ledger"
	"github.com/postforge/autopost/internal/lifecycle"
	"github.com/postforge/autopost/internal/platform"
	"github.com/postforge/autopost/internal/preview"
	"github.com/postforge/autopost/internal/store"
)

func main() {
	runStreamer := flag.Bool("run-streamer", false, "start the ledger streamer")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[startup] config load: %v", err)
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[startup] db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("[startup] db ping: %v", err)
	}

	st := store.NewPGStore(db)
	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("[startup] ensure schema: %v", err)
	}
	catalog := platform.Default()
	connections := buildConnections(cfg, catalog)

	registry := adapter.NewRegistry()
	for _, id := range catalog.IDs() {
		if endpoint, ok := cfg.AdapterEndpoints[id]; ok {
			remote, err := adapter.NewHTTPAdapter(adapter.HTTPAdapterConfig{
				Endpoint:    endpoint,
				Platform:    id,
				Timeout:     cfg.DispatchTimeout,
				TokenSecret: []byte(cfg.AdapterTokenSecret),
			})
			if err != nil {
				log.Fatalf("[startup] adapter %s: %v", id, err)
			}
			registry.Register(id, remote)
			continue
		}
		registry.Register(id, adapter.NewLocal(id))
	}

	evaluator := preview.New(catalog, connections)
	controller := lifecycle.NewController(st, cfg.ApproveDelay)
	coordinator := dispatch.NewCoordinator(st, registry, dispatch.Config{
		AdvanceInterval: cfg.AdvanceInterval,
		MaxConcurrency:  cfg.DispatchConcurrency,
	})

	var archiver ledger.Archiver
	if cfg.S3Bucket != "" {
		s3Archiver, err := ledger.NewS3Archiver(context.Background(), cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("[startup] s3 archiver: %v", err)
		}
		archiver = s3Archiver
	}

	server := httpserver.New(cfg, st, evaluator, controller, coordinator, catalog, archiver)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if shouldRunStreamer(*runStreamer) && len(cfg.KafkaBrokers) > 0 {
		producer, err := ledger.NewKafkaProducer(ledger.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("[startup] kafka producer: %v", err)
		}
		streamer := ledger.NewStreamer(st, producer, ledger.StreamerConfig{})
		log.Printf("[startup] starting ledger streamer")
		go func() {
			if err := streamer.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("[ledger.streamer] exited: %v", err)
			}
		}()
	}

	go func() {
		log.Printf("[startup] autopost service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[startup] http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func buildConnections(cfg config.Config, catalog *platform.Catalog) platform.Connections {
	connected := platform.StaticConnections{}
	ids := cfg.ConnectedPlatforms
	if len(ids) == 0 {
		ids = catalog.IDs()
	}
	for _, id := range ids {
		connected[id] = true
	}
	return connected
}

func shouldRunStreamer(flagValue bool) bool {
	if flagValue {
		return true
	}
	if v := os.Getenv("AUTOPOST_STREAMER"); v != "" {
		enabled, err := strconv.ParseBool(v)
		return err == nil && enabled
	}
	return false
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
