package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgeconnect/config"
	"judgeconnect/internal/database"
	"judgeconnect/internal/realtime"
	"judgeconnect/internal/router"
	"judgeconnect/pkg/cloudinary"
)

func main() {
	cfg := config.Load()
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	broker := realtime.NewBroker()
	var bridge *realtime.RedisBridge
	if cfg.Redis.URL != "" {
		bridge, err = realtime.NewRedisBridge(cfg.Redis.URL, cfg.Redis.Channel)
		if err != nil {
			log.Fatalf("redis bridge: %v", err)
		}
		broker.AttachBridge(bridge)
		log.Printf("[Realtime] cross-instance bridge enabled on %s", cfg.Redis.Channel)
	} else {
		log.Printf("[Realtime] single-instance mode: set REDIS_URL to bridge instances")
	}

	var cloud cloudinary.Client
	if cfg.Cloudinary.CloudName != "" {
		cloud, err = cloudinary.NewClientFromParams(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret)
		if err != nil {
			log.Fatalf("cloudinary: %v", err)
		}
	}

	engine := router.Setup(cfg, db, broker, cloud)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	if bridge != nil {
		bridge.Close()
	}
	fmt.Println("server stopped")
}
