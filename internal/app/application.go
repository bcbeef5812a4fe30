package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"polycast/internal/api"
	"polycast/internal/config"
	"polycast/internal/relay"
	"polycast/internal/snapshot"
	"polycast/internal/speech"
	"polycast/internal/store"
	"polycast/internal/websocket"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// Application wires every relay component in dependency order:
// snapshot store → room store → registry → mode → speech clients →
// router → handler → monitor → sweeper → HTTP.
type Application struct {
	config     *config.Config
	logger     *log.Logger
	snapshots  *snapshot.Store
	rooms      *store.Store
	registry   *websocket.Registry
	mode       *relay.Mode
	translator *speech.GeminiTranslator
	monitor    *websocket.Monitor
	sweeper    *relay.Sweeper
	httpServer *http.Server
}

// New assembles the application from a validated configuration.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	snapshots, err := snapshot.Open(cfg.Snapshot.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	rooms := store.New(snapshots, logger)
	rejected := store.NewRejectedCodes()
	registry := websocket.NewRegistry()
	mode := loadMode(ctx, cfg, snapshots, logger)

	var transcriber interfaces.Transcriber
	if cfg.Speech.OpenAIAPIKey != "" {
		whisper, err := speech.NewWhisperTranscriber(cfg.Speech.OpenAIAPIKey)
		if err != nil {
			snapshots.Close()
			return nil, fmt.Errorf("failed to create transcriber: %w", err)
		}
		transcriber = whisper
	} else {
		logger.Warn("no OpenAI API key configured, audio submissions will fail")
		transcriber = unavailableTranscriber{}
	}

	var translator interfaces.Translator
	var gemini *speech.GeminiTranslator
	if cfg.Speech.GoogleAPIKey != "" {
		gemini, err = speech.NewGeminiTranslator(ctx, cfg.Speech.GoogleAPIKey)
		if err != nil {
			snapshots.Close()
			return nil, fmt.Errorf("failed to create translator: %w", err)
		}
		translator = gemini
	} else {
		logger.Warn("no Google API key configured, translations will fail")
		translator = unavailableTranslator{}
	}

	router := relay.NewRouter(rooms, snapshots, mode, transcriber, translator, logger)
	handler := websocket.NewHandler(registry, rooms, rejected, snapshots, router, cfg.Relay.JoinTimeout, logger)
	monitor := websocket.NewMonitor(registry, cfg.Relay.PingInterval, logger)
	sweeper := relay.NewSweeper(rooms, snapshots, cfg.Relay.SweepInterval, cfg.Relay.RoomMaxAge, logger)
	sweeper.AttachLimiter(router.Limiter())
	apiServer := api.NewServer(rooms, rejected, registry, mode, snapshots, snapshots, cfg.Admin.Key, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/mode", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", handler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		snapshots:  snapshots,
		rooms:      rooms,
		registry:   registry,
		mode:       mode,
		translator: gemini,
		monitor:    monitor,
		sweeper:    sweeper,
		httpServer: httpServer,
	}, nil
}

// loadMode restores the persisted relay mode, falling back to the configured
// default when no setting has been stored yet.
func loadMode(ctx context.Context, cfg *config.Config, snapshots *snapshot.Store, logger *log.Logger) *relay.Mode {
	mode := relay.NewMode(cfg.Relay.TextMode)
	value, err := snapshots.GetSetting(ctx, api.ModeSettingKey)
	switch {
	case err == nil:
		mode.SetText(value == types.ModeText)
		logger.Info("restored relay mode", "mode", mode)
	case errors.Is(err, snapshot.ErrSettingNotFound):
	default:
		logger.Warn("failed to load persisted mode", "error", err)
	}
	return mode
}

// Start launches the background loops, then the HTTP server.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting relay", "addr", app.httpServer.Addr, "mode", app.mode)

	if err := app.monitor.Start(); err != nil {
		return fmt.Errorf("failed to start liveness monitor: %w", err)
	}
	if err := app.sweeper.Start(); err != nil {
		app.monitor.Stop()
		return fmt.Errorf("failed to start lifecycle sweeper: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.sweeper.Stop()
		app.monitor.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("relay started")
		return nil
	case <-ctx.Done():
		app.sweeper.Stop()
		app.monitor.Stop()
		return ctx.Err()
	}
}

// Stop shuts the relay down in reverse dependency order: HTTP first, then the
// background loops, every open connection, and finally the snapshot store.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down relay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := app.sweeper.Stop(); err != nil {
		app.logger.Error("sweeper shutdown error", "error", err)
	}
	if err := app.monitor.Stop(); err != nil {
		app.logger.Error("monitor shutdown error", "error", err)
	}

	for _, conn := range app.registry.All() {
		_ = conn.Close()
		app.registry.Remove(conn)
	}

	if app.translator != nil {
		if err := app.translator.Close(); err != nil {
			app.logger.Error("translator shutdown error", "error", err)
		}
	}
	if err := app.snapshots.Close(); err != nil {
		app.logger.Error("snapshot store shutdown error", "error", err)
	}

	app.logger.Info("relay shutdown complete")
	return nil
}

// Addr returns the HTTP listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

// unavailableTranscriber and unavailableTranslator stand in when no API key
// is configured, so the relay still serves rooms in the other mode.
type unavailableTranscriber struct{}

func (unavailableTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return "", speech.ErrMissingAPIKey
}

type unavailableTranslator struct{}

func (unavailableTranslator) TranslateBatch(context.Context, string, string, []string) (map[string]string, error) {
	return nil, speech.ErrMissingAPIKey
}
