package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/archwes/ZeroGuard-sub001/internal/platform"
	"github.com/archwes/ZeroGuard-sub001/internal/server"
	"github.com/archwes/ZeroGuard-sub001/internal/storage"
)

func main() {
	logger := log.New(os.Stdout, "[vaultd] ", log.LstdFlags)

	if err := platform.DisableCoreDumps(); err != nil {
		logger.Printf("disable core dumps: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	cfg := server.Config{
		Listen:       envOr("VAULTD_LISTEN", ":8444"),
		JWTIssuer:    envOr("VAULTD_ISSUER", "zeroguard-backend"),
		TokenTTL:     envDuration("VAULTD_TOKEN_TTL", 15*time.Minute),
		HandshakeTTL: envDuration("VAULTD_HANDSHAKE_TTL", 2*time.Minute),
	}
	srv, err := server.New(cfg, st)
	if err != nil {
		logger.Fatalf("server: %v", err)
	}

	hs := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutCtx)
	}()

	logger.Printf("listening on %s", cfg.Listen)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

// openStore picks the persistence backend from VAULTD_STORE: "file"
// (default), "memory" for throwaway runs, or "mongo".
func openStore(ctx context.Context) (storage.Store, error) {
	switch envOr("VAULTD_STORE", "file") {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "mongo":
		uri := os.Getenv("VAULTD_MONGO_URI")
		if uri == "" {
			return nil, errors.New("VAULTD_MONGO_URI required for the mongo backend")
		}
		return storage.NewMongoStore(ctx, uri, envOr("VAULTD_MONGO_DB", "zeroguard"))
	case "file":
		dir := envOr("VAULTD_DATA_DIR", "./data")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
		return storage.NewFileStore(dir), nil
	default:
		return nil, errors.New("VAULTD_STORE must be memory, file, or mongo")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
