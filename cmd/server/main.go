// Command server is the composition root for the courier privacy and
// security core: it loads configuration, wires every component together,
// starts the HTTP/websocket listener, and runs the background tickers that
// sweep for communication loss and due notification retries.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lastmile/courier-core/internal/access"
	"github.com/lastmile/courier-core/internal/audit"
	"github.com/lastmile/courier-core/internal/config"
	"github.com/lastmile/courier-core/internal/emergency"
	"github.com/lastmile/courier-core/internal/httpapi"
	"github.com/lastmile/courier-core/internal/notify"
	"github.com/lastmile/courier-core/internal/realtime"
	"github.com/lastmile/courier-core/internal/security"
	"github.com/lastmile/courier-core/internal/storage"
	"github.com/lastmile/courier-core/internal/telemetry"
	"github.com/lastmile/courier-core/internal/verify"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config: "+err.Error())
		os.Exit(1)
	}

	log := telemetry.New(os.Stdout, telemetry.Options{Service: "courier-core", Level: telemetry.LevelInfo})

	issuer, err := access.NewIssuer([]byte(cfg.JWTSecret))
	if err != nil {
		log.Error("startup failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	ledger := audit.NewLedger()
	monitor := security.NewMonitor()
	broadcaster := realtime.New(log)
	dispatcher := notify.New(notify.Options{MasterKey: []byte(cfg.EncryptionKey)})
	verifier := verify.New(verify.Options{
		MasterKey:  []byte(cfg.EncryptionKey),
		HMACSecret: []byte(cfg.HMACSecret),
		OTPLength:  cfg.OTPLength,
		OTPTTL:     cfg.OTPTTL,
	})
	orchestrator := emergency.New(&notifierAdapter{d: dispatcher}, broadcaster)

	store, err := openStore(cfg)
	if err != nil {
		log.Error("storage init failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := store.EnsureSchema(ctx)
		cancel()
		if err != nil {
			log.Error("storage schema init failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		log.Info("durable storage enabled", map[string]any{"dialect": string(dialectFor(cfg))})
	}

	deps := &httpapi.Deps{
		Log:         log,
		Issuer:      issuer,
		Ledger:      ledger,
		Verifier:    verifier,
		Monitor:     monitor,
		Emergency:   orchestrator,
		Notify:      dispatcher,
		Realtime:    broadcaster,
		CodesSecret: []byte(cfg.HMACSecret),
		CORSOrigin:  cfg.CORSOrigin,

		LocationGridSizeMeters: cfg.LocationGridSizeMeters,
		GeofenceRadiusMeters:   100,

		RateLimitWindow:      cfg.RateLimitWindow,
		RateLimitMaxRequests: cfg.RateLimitMaxRequests,
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           httpapi.NewRouter(deps),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopTickers := make(chan struct{})
	go runCommsLossTicker(stopTickers, monitor, log)
	go runRetryTicker(stopTickers, dispatcher, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", map[string]any{"addr": srv.Addr, "env": cfg.Env})
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", map[string]any{"error": err.Error()})
		}
	}

	close(stopTickers)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", map[string]any{"error": err.Error()})
	}
	log.Info("server stopped", map[string]any{})
}

// notifierAdapter satisfies emergency.Notifier by forwarding to the real
// dispatcher's typed Channel/Priority API; the two packages are kept
// independent of each other's concrete types on purpose, so the adaptation
// lives here at the composition root instead of in either package.
type notifierAdapter struct {
	d *notify.Dispatcher
}

func (a *notifierAdapter) Send(recipientID, channel, templateID string, content map[string]string, priority string) error {
	_, err := a.d.Send(recipientID, notify.Channel(channel), templateID, content, notify.Priority(priority))
	return err
}

func dialectFor(cfg config.Config) storage.Dialect {
	if cfg.DatabaseURL == "" {
		return storage.DialectSQLite
	}
	if len(cfg.DatabaseURL) >= 8 && cfg.DatabaseURL[:8] == "postgres" {
		return storage.DialectPostgres
	}
	return storage.DialectSQLite
}

func driverFor(dialect storage.Dialect) string {
	if dialect == storage.DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// openStore opens the optional durable backing store. An empty
// DATABASE_URL disables durable storage entirely; the in-memory ledger,
// dispatcher, and monitor remain fully functional on their own.
func openStore(cfg config.Config) (*storage.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	dialect := dialectFor(cfg)
	db, err := sql.Open(driverFor(dialect), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return storage.Open(db, storage.Options{Dialect: dialect})
}

// runCommsLossTicker periodically checks every driver the monitor has ever
// heard from for communication loss, since a driver who simply stops
// sending updates never triggers ProcessLocationUpdate again on their own.
func runCommsLossTicker(stop <-chan struct{}, monitor *security.Monitor, log *telemetry.Logger) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, a := range monitor.Snapshot() {
				if alert := monitor.CheckCommunicationLoss(a.DeliveryID, a.DriverID, a.LastSeenAt); alert != nil {
					log.Warn("communication loss alert raised", map[string]any{
						"driverId":   a.DriverID,
						"deliveryId": a.DeliveryID,
						"alertId":    alert.ID,
					})
				}
			}
		}
	}
}

// runRetryTicker re-attempts any notification whose backoff window has
// elapsed. It has no access to decrypted content here (the dispatcher
// keeps only ciphertext at rest), so due notifications without a supplied
// plaintext are retried with an empty payload, consistent with the
// dispatcher's own max-retries-then-fail semantics.
func runRetryTicker(stop <-chan struct{}, dispatcher *notify.Dispatcher, log *telemetry.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n := dispatcher.RetryDue(map[string]map[string]string{})
			if n > 0 {
				log.Info("retried due notifications", map[string]any{"count": n})
			}
		}
	}
}
