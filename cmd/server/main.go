package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brunobiangulo/healthcoach"
	"github.com/brunobiangulo/healthcoach/ingest"
	"github.com/brunobiangulo/healthcoach/knowledge"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	docsDir := flag.String("docs", "", "Optional directory of documents to index alongside the built-in corpus")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := healthcoach.ConfigFromEnv()

	// Fallback: check well-known provider env vars for API keys.
	if cfg.Chat.APIKey == "" {
		switch cfg.Chat.Provider {
		case "openai":
			cfg.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Chat.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}
	if cfg.Embedding.APIKey == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Embedding.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}

	apiKey := os.Getenv("HEALTHCOACH_API_KEY")
	corsOrigins := os.Getenv("HEALTHCOACH_CORS_ORIGINS")

	engine, err := healthcoach.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// The index must be built before any suggestion request is served.
	buildCtx, cancelBuild := context.WithTimeout(context.Background(), 10*time.Minute)
	chunks, err := indexChunks(*docsDir)
	if err != nil {
		cancelBuild()
		slog.Error("loading documents", "dir", *docsDir, "error", err)
		os.Exit(1)
	}
	if err := engine.BuildIndex(buildCtx, chunks); err != nil {
		cancelBuild()
		slog.Error("building knowledge index", "error", err)
		os.Exit(1)
	}
	cancelBuild()

	h := newHandler(engine, *docsDir)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /logs", h.handleAddLog)
	mux.HandleFunc("POST /logs/import", h.handleImportLogs)
	mux.HandleFunc("GET /logs", h.handleListLogs)
	mux.HandleFunc("POST /suggest", h.handleSuggest)
	mux.HandleFunc("POST /index", h.handleReindex)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// indexChunks gathers everything the server indexes: the built-in corpus
// plus the optional docs directory.
func indexChunks(docsDir string) ([]knowledge.Chunk, error) {
	chunks := ingest.DefaultCorpus()
	if docsDir == "" {
		return chunks, nil
	}
	extra, err := ingest.LoadDir(docsDir)
	if err != nil {
		return nil, err
	}
	return append(chunks, extra...), nil
}
