// Command karadao runs a governance node: the voting engine, safety gate,
// execution bridge, and stake treasury wired together behind the HTTP API.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kara-bolt/karadao/pkg/api"
	"github.com/kara-bolt/karadao/pkg/audit"
	"github.com/kara-bolt/karadao/pkg/bridge"
	"github.com/kara-bolt/karadao/pkg/config"
	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/events"
	"github.com/kara-bolt/karadao/pkg/governance"
	"github.com/kara-bolt/karadao/pkg/guardian"
	"github.com/kara-bolt/karadao/pkg/observability"
	"github.com/kara-bolt/karadao/pkg/policy"
	"github.com/kara-bolt/karadao/pkg/store"
	"github.com/kara-bolt/karadao/pkg/token"
	"github.com/kara-bolt/karadao/pkg/treasury"
)

// Component identities used on inter-component calls.
const (
	engineAddr   contracts.Address = "karadao/governance"
	gateAddr     contracts.Address = "karadao/guardian"
	bridgeAddr   contracts.Address = "karadao/bridge"
	registryAddr contracts.Address = "karadao/registry"
)

// genesisSupply is minted to the owner at startup, in whole tokens.
const genesisSupply = 1_000_000_000

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		log.Fatalf("genesis profile %s: %v", cfg.ProfilePath, err)
	}
	owner := contracts.Address(profile.Owner)
	chief := contracts.Address(profile.Chief)
	logger.Info("genesis profile loaded", "name", profile.Name, "version", profile.Version)

	params := profile.GovernanceParams()
	tiers, err := profile.TierConfigs()
	if err != nil {
		log.Fatalf("genesis profile tiers: %v", err)
	}
	breakers, err := profile.BreakerConfigs()
	if err != nil {
		log.Fatalf("genesis profile breakers: %v", err)
	}

	// Persistence and the event fan-out.
	db, err := store.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer db.Close()
	logger.Info("store ready", "driver", cfg.DBDriver)

	clock := contracts.SystemClock{}
	bus := events.NewBus(clock)
	bus.Subscribe(db.Journal(logger))
	// Record snapshots are wired once the components exist, below.

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		pub := events.NewRedisPublisher(redis.NewClient(opts), "karadao.events", logger)
		bus.Subscribe(pub.Handler())
		logger.Info("event stream mirror ready")
	}

	obs, err := observability.New(ctx, observability.DefaultConfig())
	if err != nil {
		log.Fatalf("observability: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()
	bus.Subscribe(obs.EventHandler())

	trail := audit.NewLog(clock)

	// Token book and genesis supply.
	book := token.NewMemoryLedger()
	book.Mint(owner, contracts.Units(genesisSupply))

	// Core components.
	engine := governance.NewEngine(engineAddr, owner, book.Bind(engineAddr), clock, governance.Options{
		Logger: logger,
		Bus:    bus,
		Trail:  trail,
		Params: &params,
		Tiers:  tiers,
	})
	gate := guardian.NewGate(gateAddr, owner, chief, clock, guardian.Options{
		Logger:   logger,
		Bus:      bus,
		Trail:    trail,
		Breakers: breakers,
	})
	br := bridge.New(bridgeAddr, owner, engineAddr, clock, bridge.Options{
		Logger: logger,
		Bus:    bus,
		Trail:  trail,
	})
	tr := treasury.New(registryAddr, book.Bind(registryAddr), clock, logger)

	bus.Subscribe(db.Snapshot(engine, br, gate, logger))

	// Cross-wiring. The engine and gate each hold the other's identity so
	// veto propagation and pause checks authenticate.
	engine.SetSafetyGate(gateAddr, gate)
	engine.SetExecutionSink(br)
	engine.SetStakeRegistry(registryAddr)
	gate.SetGovernance(engine)
	br.SetSafetyGate(gate)
	br.SetReputationSink(engine)
	tr.SetGovernance(engine)

	for _, src := range []contracts.Address{gateAddr, bridgeAddr} {
		if err := engine.AuthorizeReputationSource(owner, src); err != nil {
			log.Fatalf("reputation source %s: %v", src, err)
		}
	}

	// Rosters from the genesis profile.
	for _, g := range profile.Guardians {
		if err := gate.AddGuardian(owner, contracts.Address(g)); err != nil {
			log.Fatalf("guardian roster %s: %v", g, err)
		}
	}
	for _, x := range profile.Executors {
		if err := br.AddExecutor(owner, contracts.Address(x)); err != nil {
			log.Fatalf("executor roster %s: %v", x, err)
		}
	}
	for _, w := range profile.Whitelist {
		if err := engine.SetWhitelisted(owner, contracts.Address(w), true); err != nil {
			log.Fatalf("whitelist %s: %v", w, err)
		}
	}

	// Screening policies.
	if len(profile.AdmissionRules) > 0 {
		rules := make([]policy.Rule, 0, len(profile.AdmissionRules))
		for _, r := range profile.AdmissionRules {
			rules = append(rules, policy.Rule{Name: r.Name, Expression: r.Expression})
		}
		admission, err := policy.NewAdmission(rules)
		if err != nil {
			log.Fatalf("admission rules: %v", err)
		}
		engine.SetAdmissionPolicy(admission)
		logger.Info("admission policy ready", "rules", admission.Len())
	}
	metaValidator, err := policy.NewMetadataValidator(profile.MetadataSchema)
	if err != nil {
		log.Fatalf("metadata schema: %v", err)
	}
	engine.SetMetadataValidator(metaValidator)

	// The bridge emits a breaker signal after consecutive execution
	// failures; the gate consumes it through its failure counter, so the
	// bridge identity sits on the guardian roster.
	if err := gate.AddGuardian(owner, bridgeAddr); err != nil {
		log.Fatalf("bridge guardian wiring: %v", err)
	}
	bus.Subscribe(func(ev events.Event) {
		if ev.Type != events.TypeBreakerSignal {
			return
		}
		name, _ := ev.Fields["tier"].(string)
		tier, err := contracts.ParseTier(name)
		if err != nil {
			logger.Warn("breaker signal with unknown tier", "tier", name)
			return
		}
		if err := gate.RecordFailure(bridgeAddr, tier); err != nil {
			logger.Warn("breaker signal not recorded", "tier", name, "error", err)
		}
	})

	// HTTP surface.
	var auth *api.Authenticator
	if cfg.JWTSecret != "" {
		auth = api.NewAuthenticator([]byte(cfg.JWTSecret), clock)
	} else {
		logger.Warn("JWT_SECRET not set; all API requests will be rejected")
		auth = api.NewAuthenticator(nil, clock)
	}
	srv := api.NewServer(engine, gate, br, tr, api.Options{
		Auth:    auth,
		Limiter: api.NewCallerRateLimiter(20, 40),
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("api listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	// Cycle ticker: cycles also advance lazily on writes, the ticker just
	// keeps an idle node's clock visible to queries and event consumers.
	tickerDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(params.CycleDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := engine.AdvanceCycle(); err != nil {
					logger.Warn("cycle advance failed", "error", err)
				}
			case <-tickerDone:
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	close(tickerDone)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
