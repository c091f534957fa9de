package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/altwn/consilium/internal/config"
	"github.com/altwn/consilium/internal/executor"
	"github.com/altwn/consilium/internal/llm"
	"github.com/altwn/consilium/internal/orchestrator"
	"github.com/altwn/consilium/internal/prompt"
	"github.com/altwn/consilium/internal/storage"
	"github.com/altwn/consilium/web/handlers"
)

func main() {
	port := flag.Int("port", 0, "Server port (default from config)")
	dbPath := flag.String("db", "", "Database path (default from config)")
	cfgPath := flag.String("config", "", "Config file path")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if *cfgPath != "" {
		cfg, err = config.LoadFrom(*cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	path := *dbPath
	if path == "" {
		path = cfg.Storage.Path
	}
	if path == "" {
		path = storage.DefaultDBPath()
	}

	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		logger.Error("failed to open storage", "error", err, "path", path)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Initialize(); err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	deps := executor.Deps{
		LLM: llm.NewHTTPClient(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Timeout: cfg.LLM.Timeout,
		}),
		Prompts: prompt.New(),
	}
	orch := orchestrator.New(store, deps, cfg.DebatePolicy(), logger)

	listenPort := *port
	if listenPort == 0 {
		listenPort = cfg.Server.Port
	}

	h := handlers.New(orch, store)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", listenPort),
		Handler: h.Router(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		server.Close()
	}()

	logger.Info("server listening", "port", listenPort, "db", path)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
