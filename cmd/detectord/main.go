// detectord serves PII detection over HTTP so a single model process can
// be shared by several anonymization runs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-vault/internal/config"
	"github.com/raaihank/pii-vault/internal/detector"
	"github.com/raaihank/pii-vault/internal/logger"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

// Server hosts the detection endpoints.
type Server struct {
	logger   *logger.Logger
	detector detector.Detector
	router   *mux.Router
	server   *http.Server
}

// New creates a new detectord server instance
func New(cfg *config.Config, port int, log *logger.Logger) (*Server, error) {
	if cfg.Detector.Backend == "remote" {
		return nil, fmt.Errorf("detectord cannot serve the remote backend")
	}

	factory := detector.NewFactory(log.WithComponent("detector"))
	det, err := factory.CreateDetector(cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}

	router := mux.NewRouter()
	server := &Server{
		logger:   log.WithComponent("detectord"),
		detector: det,
		router:   router,
	}
	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/v1/detect", s.handleDetect).Methods("POST")
}

// Start begins serving requests
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"backend": s.detector.Name(),
		"version": version,
	})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detector.DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entities, err := s.detector.Detect(r.Context(), req.Text)
	if err != nil {
		s.logger.Error("Detection failed", zap.Error(err))
		http.Error(w, "detection failed", http.StatusInternalServerError)
		return
	}
	if entities == nil {
		entities = []detector.Entity{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detector.DetectResponse{Entities: entities})
}

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		port        = flag.Int("port", 8431, "Port to listen on")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("detectord %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	server, err := New(cfg, *port, log)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("detectord listening", zap.Int("port", *port))
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}
