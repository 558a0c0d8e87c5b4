package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mltrack/adapters/api"
	"mltrack/adapters/artifacts"
	"mltrack/adapters/sqlstore"
	"mltrack/internal/config"
	"mltrack/internal/errors"
)

// serverArtifactRoot makes new experiments store artifacts behind the
// server's mlflow-artifacts proxy
const serverArtifactRoot = "mlflow-artifacts:"

func main() {
	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	uri := appConfig.Tracking.URI
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		log.Fatal(errors.ConfigInvalid("the tracking server needs a database URI (sqlite:// or postgres://), got " + uri))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(ctx, uri, serverArtifactRoot)
	if err != nil {
		log.Fatalf("Failed to open tracking store: %v", err)
	}
	defer store.Close()

	fileStore := artifacts.NewFileStore(appConfig.Tracking.ArtifactRoot)
	handler := api.NewServer(store, fileStore, api.Config{
		ServeArtifacts: true,
		RequestLogging: true,
	})

	addr := net.JoinHostPort(appConfig.Server.Host, appConfig.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down tracking server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("Tracking store: %s", uri)
	log.Printf("Serving artifacts from %s", fileStore.Root())
	log.Printf("Starting tracking server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
