// Command collector runs an in-memory analytics collector for tour sessions.
//
// Usage:
//
//	collector [flags]
//
// Flags:
//
//	-port       Port to listen on (default: 8090)
//	-host       Host to bind to (default: localhost)
//	-log-level  Log level (default: info)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docent/internal/logs"
	"docent/testserver"
)

func main() {
	port := flag.Int("port", 8090, "port to listen on")
	host := flag.String("host", "localhost", "host to bind to")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	lvl, err := logs.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	level := new(slog.LevelVar)
	level.Set(lvl)
	logger := logs.New(logs.Options{Level: level, Journal: true})

	server := testserver.NewServer()
	addr := fmt.Sprintf("%s:%d", *host, *port)

	fmt.Println("Docent Collector")
	fmt.Println("================")
	fmt.Printf("Listening on http://%s\n\n", addr)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health              - Health check")
	fmt.Println("  POST /events              - Accept an event batch")
	fmt.Println("  GET  /sessions            - List session ids")
	fmt.Println("  GET  /sessions/{id}       - Accepted events for a session")
	fmt.Println("  POST /admin/fail          - Fail the next batches (?n=3)")
	fmt.Println()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("collector_shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("collector_listening", slog.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("collector_failed", slog.Any("error", err))
		os.Exit(1)
	}
}
