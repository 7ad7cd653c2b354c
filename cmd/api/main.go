package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"folio/api/internal/accounts"
	"folio/api/internal/app"
	"folio/api/internal/catalog"
	"folio/api/internal/config"
	"folio/api/internal/event"
	"folio/api/internal/search"
	"folio/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	redisClient, err := event.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	topics := event.Topics{
		AuthorUpdated:   cfg.TopicAuthorUpdated,
		AuthorDeleted:   cfg.TopicAuthorDeleted,
		DocumentUpdated: cfg.TopicDocumentUpdated,
		DocumentDeleted: cfg.TopicDocumentDeleted,
	}
	producer := event.NewProducer(redisClient, topics)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient, err = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		if err != nil {
			log.Printf("WARNING: meilisearch unavailable, falling back to store search: %v", err)
			meiliClient = nil
		}
	}
	searchService := search.NewService(meiliClient, dataStore)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	authorService := catalog.NewAuthorService(dataStore, producer)
	documentService := catalog.NewDocumentService(dataStore, producer, searchService)
	accountService := accounts.NewService(dataStore, cfg.JWTSecret, cfg.AccessTTL)

	consumer := event.NewConsumer(redisClient, topics, authorService, documentService)
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go func() {
		if err := consumer.Run(consumerCtx); err != nil {
			log.Printf("event consumer stopped: %v", err)
		}
	}()

	httpServer := app.NewHTTPServer(authorService, documentService, accountService, searchService, db, cfg.JWTSecret, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Folio API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
