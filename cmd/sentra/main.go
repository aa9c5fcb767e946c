// Command sentra runs the threat-assessment pipeline behind a small HTTP
// surface: POST /v1/assess for verdicts, POST /v1/incidents to feed the
// crime store, /healthz and /metrics for operations. The pipeline itself is
// embeddable; this binary is just the network shim around pkg/engine.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"sentra/pkg/admission"
	"sentra/pkg/config"
	"sentra/pkg/crimeintel"
	"sentra/pkg/engine"
	"sentra/pkg/logging"
	"sentra/pkg/model"
)

func main() {
	cfg := config.FromEnv()
	log := logging.New("sentra", logLevel(), nil)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := engine.Options{Logger: log}

	if addr := os.Getenv("SENTRA_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("SENTRA_REDIS_PASSWORD")})
		opts.Limiter = admission.NewLimiter(cfg.RateLimitWindow, cfg.RateLimitRequests, cfg.BurstAllowance, rdb)
		log.Info("rate limiter using redis backend", logging.Fields{"addr": addr})
	}

	if dsn := os.Getenv("SENTRA_CRIME_DSN"); dsn != "" {
		store, err := crimeintel.NewPostgresStore(ctx, dsn)
		if err != nil {
			log.Error("crime store unavailable, continuing with embedded store", logging.Fields{"error": err.Error()})
		} else {
			defer store.Close()
			opts.CrimeStore = store
			log.Info("crime store using postgres backend", nil)
		}
	}

	loader, err := buildLoader(cfg, log)
	if err != nil {
		log.Error("model setup failed, serving uniform fallback", logging.Fields{"error": err.Error()})
	}
	if loader != nil {
		opts.Loader = loader
	}

	eng := engine.New(cfg, opts)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/assess", handleAssess(eng))
	mux.HandleFunc("/v1/incidents", handleIncident(eng))
	mux.HandleFunc("/healthz", handleHealth(eng))
	mux.Handle("/metrics", promhttp.Handler())

	addr := getenv("SENTRA_ADDR", "127.0.0.1:8087")
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		log.Info("listening", logging.Fields{"addr": addr, "version": engine.Version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", logging.Fields{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down", nil)
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("shutdown incomplete", logging.Fields{"error": err.Error()})
	}
}

// buildLoader loads and verifies the model artifacts named in the
// environment. Missing configuration is not an error; the engine then runs
// in fallback mode.
func buildLoader(cfg config.Config, log *logging.Logger) (*model.Loader, error) {
	keyPath := os.Getenv("SENTRA_MODEL_PUBKEY")
	modelPath := os.Getenv("SENTRA_MODEL_PATH")
	sigPath := os.Getenv("SENTRA_MODEL_SIG")
	if keyPath == "" || modelPath == "" || sigPath == "" {
		return nil, nil
	}
	pub, err := loadPublicKey(keyPath)
	if err != nil {
		return nil, err
	}
	loader := model.NewLoader(cfg, pub, log)

	payload, err := os.ReadFile(modelPath)
	if err != nil {
		return loader, fmt.Errorf("read model: %w", err)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return loader, fmt.Errorf("read signature: %w", err)
	}
	if err := loader.Load(payload, sig); err != nil {
		return loader, err
	}
	return loader, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key in %s is not RSA", path)
	}
	return pub, nil
}

func handleAssess(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		resp := eng.Assess(r.Context(), clientID(r), body)
		w.Header().Set("Content-Type", "application/json")
		if resp.Error {
			w.WriteHeader(statusFor(resp.ErrorCode))
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func handleIncident(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			stats, err := eng.IncidentStats(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(stats)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var inc crimeintel.Incident
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&inc); err != nil {
			http.Error(w, "invalid incident payload", http.StatusBadRequest)
			return
		}
		if err := eng.ReportIncident(r.Context(), inc); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleHealth(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eng.HealthCheck())
	}
}

func statusFor(code string) int {
	switch code {
	case engine.CodeRateLimit:
		return http.StatusTooManyRequests
	case engine.CodeOverloaded:
		return http.StatusServiceUnavailable
	case engine.CodeProcessing:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func clientID(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func logLevel() logging.Level {
	switch os.Getenv("SENTRA_LOG_LEVEL") {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
