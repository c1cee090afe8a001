package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"qr-relay/auth"
	"qr-relay/infrastructure/httpapi"
	"qr-relay/infrastructure/ws"
	"qr-relay/relay"
	"qr-relay/repositories"
	"qr-relay/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the whole process and owns its lifecycle, so every defer
// (database close, server shutdown) executes before main exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	secret := config.JWTSecret
	if secret == "" {
		// Random secret means every session dies with the process.
		buf := make([]byte, 16)
		_, _ = rand.Read(buf)
		secret = hex.EncodeToString(buf)
		log.Warn("JWT_SECRET not set, using a random secret; sessions will not survive a restart")
	}

	// 2. Database (BadgerDB) for the identity collaborator
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Identity collaborator
	users := repositories.NewUserRepository(db)
	ipBans := repositories.NewIPBanRepository(db)
	issuer := auth.NewTokenIssuer(secret, config.AuthTokenDuration)
	authSvc := services.NewAuthService(log, users, ipBans, issuer)
	if err := bootstrapOwner(log, users, authSvc); err != nil {
		return fmt.Errorf("owner bootstrap failed: %w", err)
	}

	// 4. Relay core
	registry := relay.NewRegistry()
	engine := relay.NewEngine(log, registry, config.PublicationTTL)

	// 5. HTTP surface: WebSocket endpoint + query/admin API
	wsServer := ws.NewServer(log, engine, config.ConnectionBufferSize)
	api := httpapi.NewAPI(log, registry, authSvc, issuer)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("GET /ws", auth.Middleware(issuer, authSvc, http.HandlerFunc(wsServer.Handler)))

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: mux}

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting relay server", "address", address, "tls", config.TLSCertFile != "")
		var err error
		if config.TLSCertFile != "" && config.TLSKeyFile != "" {
			err = server.ListenAndServeTLS(config.TLSCertFile, config.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 8. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", "error", err)
	}
	log.Info("Program stopped cleanly")

	return nil
}

// bootstrapOwner seeds the very first account so the admin panel is
// reachable on a fresh install. The generated password is printed once and
// must be changed on first login.
func bootstrapOwner(log *slog.Logger, users repositories.IUserRepository,
	authSvc services.IAuthService) error {
	existing, err := users.List()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	created, err := authSvc.CreateUser("owner", "owner", "bootstrap")
	if err != nil {
		return err
	}
	log.Info("Created initial owner account",
		"username", created.User.Username, "password", created.Password)
	return nil
}
