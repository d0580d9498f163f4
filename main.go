package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	clientDir := flag.String("client", cfg.ClientDir, "Path to a static client directory (empty: API only)")
	flag.Parse()

	SessionIdleTimeout = cfg.SessionIdleTimeout

	ctx := context.Background()
	shutdownTracing, err := SetupTracing(ctx, cfg)
	if err != nil {
		log.Printf("telemetry disabled: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	var db *DB
	if cfg.DBPath != "" {
		db, err = OpenDB(cfg.DBPath)
		if err != nil {
			log.Fatalf("open db %s: %v", cfg.DBPath, err)
		}
		defer db.Close()
		log.Printf("Account stats stored in %s", cfg.DBPath)
	}

	auth := NewAuth(cfg.JWTSecret)
	if !auth.Enabled() {
		log.Printf("TAG_JWT_SECRET not set, running in guest mode")
	}

	hub, err := NewHub(HubOptions{
		Game:              cfg.GameConfig(),
		MaxSessions:       cfg.MaxSessions,
		MaxMessagesPerSec: cfg.MaxMessagesPerSec,
		PublicURL:         cfg.PublicURL,
		DB:                db,
		Auth:              auth,
	})
	if err != nil {
		log.Fatalf("hub: %v", err)
	}
	go hub.Run()

	mux := SetupRoutes(hub, *clientDir)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", *addr)
		if *clientDir != "" {
			log.Printf("Serving client files from %s", *clientDir)
		}
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	hub.Close()
}
