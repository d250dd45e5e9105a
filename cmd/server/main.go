package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"schoolchat/internal/api"
	"schoolchat/internal/config"
	"schoolchat/internal/db"
	"schoolchat/internal/logger"
	"schoolchat/internal/websocket"
)

func main() {
	isLoadTest := flag.Bool("loadtest", false, "Run server with load testing configuration")
	flag.Parse()

	log := logger.New("SERVER")
	log.Info("Starting server...")

	cfg := config.Load()

	if cfg.RollbarToken != "" {
		host, _ := os.Hostname()
		flush := logger.EnableRollbar(cfg.RollbarToken, cfg.Env, host, cfg.Build)
		defer flush()
		log.Info("Error reporting enabled (%s)", cfg.Env)
	}

	// Load tests get their own sqlite file next to the working directory
	if *isLoadTest && cfg.DatabaseDriver() == config.DriverSQLite {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatal(err, "Failed to read working directory")
		}
		loadTestPath := filepath.Join(cwd, "loadtest", "loadtest.db")
		cfg.UpdateDatabasePath(loadTestPath)
		log.Info("Using load testing database: %s", loadTestPath)
	}

	log.Info("Loaded configuration: addr=%s driver=%s origin=%s redis=%q env=%s",
		cfg.ServerAddress, cfg.DatabaseDriver(), cfg.AllowedOrigin, cfg.RedisAddr, cfg.Env)

	database, err := db.NewDB(cfg.DatabaseDriver(), cfg.DataSource())
	if err != nil {
		log.Fatal(err, "Failed to connect to database")
	}
	defer database.Close()
	log.Info("Database connection established")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var relay websocket.Relay
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal(err, "Failed to reach redis at %s", cfg.RedisAddr)
		}
		relay = websocket.NewRedisRelay(rdb, "")
		log.Info("Push fan-out through redis at %s", cfg.RedisAddr)
	}

	hub := websocket.NewHub(database, relay, logger.New("HUB"))
	go hub.Run(ctx)
	log.Info("WebSocket hub initialized")

	handlers := api.NewHandlers(database, hub, cfg, logger.New("API"))

	server := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.New("HTTP").Std(),
	}

	go func() {
		log.Info("Server starting on %s", cfg.ServerAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Graceful shutdown failed")
	}
}
