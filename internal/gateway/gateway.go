// ABOUTME: Gateway orchestrator that wires the store, remote client, and HTTP server
// ABOUTME: Manages listeners (TCP or Tailscale), access level, and lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/scribe-gateway/internal/analysis"
	"github.com/2389/scribe-gateway/internal/auth"
	"github.com/2389/scribe-gateway/internal/catalog"
	"github.com/2389/scribe-gateway/internal/config"
	"github.com/2389/scribe-gateway/internal/events"
	"github.com/2389/scribe-gateway/internal/orchestrator"
	"github.com/2389/scribe-gateway/internal/remote"
	"github.com/2389/scribe-gateway/internal/store"
)

// Gateway coordinates the scribe-gateway server components: the review store,
// the remote repository client, the change orchestrator, and the HTTP API.
type Gateway struct {
	config      *config.Config
	store       store.Store
	catalog     *catalog.Catalog
	orch        *orchestrator.Orchestrator
	analyzer    *analysis.Analyzer
	broadcaster *events.Broadcaster
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// accessLevel holds the current access level string. It is read on every
	// propagation and swapped by the access-level endpoint.
	accessLevel atomic.Value
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SCRIBE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	client := remote.NewGitHubClient(cfg.GitHub.Token, logger.With("component", "github"))
	return newGateway(cfg, client, logger)
}

// newGateway wires a gateway around an arbitrary remote client. Tests inject
// a fake here.
func newGateway(cfg *config.Config, client remote.Client, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load()
	if err != nil {
		s.Close()
		return nil, err
	}

	broadcaster := events.NewBroadcaster(logger.With("component", "broadcaster"))

	orch := orchestrator.New(client, s, cat, broadcaster, orchestrator.Config{
		DocsRepo:   remote.Repo{Owner: cfg.GitHub.DocsOwner, Name: cfg.GitHub.DocsRepo},
		CodeRepo:   remote.Repo{Owner: cfg.GitHub.CodeOwner, Name: cfg.GitHub.CodeRepo},
		BaseBranch: cfg.GitHub.BaseBranch,
		DelayUnit:  cfg.Demo.DelayUnit,
	}, logger)

	g := &Gateway{
		config:      cfg,
		store:       s,
		catalog:     cat,
		orch:        orch,
		analyzer:    analysis.New(cat, cfg.Demo.DelayUnit, logger),
		broadcaster: broadcaster,
		logger:      logger.With("component", "gateway"),
	}
	g.accessLevel.Store(cfg.Demo.AccessLevel)

	mux := http.NewServeMux()
	g.registerRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// registerRoutes installs all HTTP routes. Mutating routes sit behind the
// static admin secret; the webhook has its own shared secret.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	admin := auth.RequireAdmin(g.config.Auth.AdminSecret)

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/status", g.handleStatus)
	mux.HandleFunc("/events", g.handleEvents)

	mux.HandleFunc("/reviews", g.handleListReviews)
	mux.HandleFunc("/reviews/", g.handleReviewRoutes)

	mux.HandleFunc("/webhook", g.handleWebhook)
	mux.Handle("/trigger", admin(http.HandlerFunc(g.handleTrigger)))
	mux.Handle("/reset", admin(http.HandlerFunc(g.handleReset)))
	mux.Handle("/access-level", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			admin(http.HandlerFunc(g.handleAccessLevel)).ServeHTTP(w, r)
		} else {
			g.handleAccessLevel(w, r)
		}
	}))

	mux.HandleFunc("/gaps", g.handleGaps)
	mux.Handle("/analyze", admin(http.HandlerFunc(g.handleAnalyze)))
	mux.Handle("/analyze/stream", admin(http.HandlerFunc(g.handleAnalyzeStream)))
	mux.Handle("/fix-gaps", admin(http.HandlerFunc(g.handleFixGaps)))
}

// currentAccessLevel returns the access level in effect right now.
func (g *Gateway) currentAccessLevel() string {
	return g.accessLevel.Load().(string)
}

// setAccessLevel swaps the access level and announces the change.
func (g *Gateway) setAccessLevel(level string) {
	g.accessLevel.Store(level)
	g.broadcaster.Publish(events.TypeAccessLevelSet, map[string]any{"level": level})
	g.logger.Info("access level changed", "level", level)
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the HTTP listener from config (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "scribe-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns its HTTP listener.
// With funnel enabled the demo is exposed publicly over HTTPS.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	g.broadcaster.Close()
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
