package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"autohodl/internal/alerting"
	"autohodl/internal/bridge"
	"autohodl/internal/chain"
	"autohodl/internal/config"
	"autohodl/internal/delegation"
	"autohodl/internal/events"
	"autohodl/internal/metrics"
	"autohodl/internal/scheduler"
	"autohodl/internal/server"
	"autohodl/internal/settlement"
	"autohodl/internal/storage"
	"autohodl/internal/webhook"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) newPublisher() (events.Publisher, error) {
	if !a.Config.Events.Enabled {
		return nil, nil
	}
	publisher, err := events.NewKafkaPublisher(events.Options{
		Brokers:  a.Config.Events.Brokers,
		Topic:    a.Config.Events.Topic,
		ClientID: a.Config.Events.ClientID,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

// openStore returns the Postgres store, or an in-memory store when no DSN is configured.
func (a *App) openStore(ctx context.Context) (storage.Repository, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		return storage.NewMemoryStore(), nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	return storage.NewStore(pool), nil
}

func (a *App) openPostgres(ctx context.Context) (*storage.Store, error) {
	if a.Config.Database.DSN == "" {
		return nil, errors.New("database not configured")
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	return storage.NewStore(pool), nil
}

func (a *App) tokenAddresses() map[int64]string {
	out := make(map[int64]string, len(a.Config.Bridge.TokenAddresses))
	for key := range a.Config.Bridge.TokenAddresses {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			a.Logger.Warn().Str("chain_id", key).Msg("ignoring bridge token with non-numeric chain id")
			continue
		}
		if addr, ok := a.Config.BridgeToken(id); ok {
			out[id] = addr
		}
	}
	return out
}

// pipeline holds everything needed to settle spend events.
type pipeline struct {
	store     storage.Repository
	chain     *chain.Client
	publisher events.Publisher
	service   *settlement.Service
	metrics   *metrics.Metrics
}

func (p *pipeline) Close() {
	if p.publisher != nil {
		_ = p.publisher.Close()
	}
	if p.chain != nil {
		p.chain.Close()
	}
	if p.store != nil {
		p.store.Close()
	}
}

func (a *App) newPipeline(ctx context.Context) (*pipeline, error) {
	cfg := a.Config
	p := &pipeline{metrics: metrics.New()}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	p.store = store

	client, err := chain.NewClient(chain.Options{
		RPCURL:            cfg.Chain.RPCURL,
		ChainID:           cfg.Chain.ChainID,
		PrivateKey:        cfg.Chain.DelegatePrivateKey,
		Timeout:           cfg.Chain.RequestTimeout,
		SubmitTimeout:     cfg.Chain.SubmitTimeout,
		GasLimitBufferPct: cfg.Chain.GasLimitBuffer,
	}, a.Logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.chain = client
	if client.Sender() != (common.Address{}) {
		a.Logger.Info().Str("delegate", client.Sender().Hex()).Msg("execution identity loaded")
	}

	publisher, err := a.newPublisher()
	if err != nil {
		p.Close()
		return nil, err
	}
	p.publisher = publisher

	probe, ok := new(big.Int).SetString(cfg.Bridge.ProbeAmount, 10)
	if !ok {
		p.Close()
		return nil, fmt.Errorf("invalid bridge.probe_amount %q", cfg.Bridge.ProbeAmount)
	}

	redeemer := delegation.NewRedeemer(delegation.FrameworkEncoder{}, client, common.HexToAddress(cfg.Chain.DelegationManager), a.Logger)
	router := bridge.NewLiFi(bridge.Options{
		BaseURL:      cfg.Bridge.BaseURL,
		Integrator:   cfg.Bridge.Integrator,
		APIKey:       cfg.Bridge.APIKey,
		AllowBridges: cfg.Bridge.AllowBridges,
		Timeout:      cfg.Bridge.RequestTimeout,
		UserAgent:    cfg.Bridge.UserAgent,
	}, a.Logger)

	validator := settlement.NewValidator(client, cfg.Chain.TokenDecimals, probe, cfg.Settlement.BalanceTimeout)
	orchestrator := settlement.NewOrchestrator(validator, redeemer, router, settlement.OrchestratorOptions{
		PoolAddress:        cfg.Chain.PoolAddress,
		DestinationChainID: cfg.Bridge.DestinationChainID,
		ProbeAmount:        probe,
		TokenAddresses:     a.tokenAddresses(),
		RouteTimeout:       cfg.Settlement.RouteTimeout,
		SubmitTimeout:      cfg.Settlement.SubmitTimeout,
	}, a.Logger)

	p.service = settlement.NewService(store, orchestrator, a.newNotifier(), publisher, p.metrics, settlement.ServiceOptions{
		LockTimeout: cfg.Settlement.LockTimeout,
		Decimals:    cfg.Chain.TokenDecimals,
	}, a.Logger)
	return p, nil
}

func (a *App) newReconciler(p *pipeline) *settlement.Reconciler {
	rc := a.Config.Reconciler
	return settlement.NewReconciler(p.service, p.store, p.metrics, settlement.ReconcilerOptions{
		MinAge:      rc.MinAge,
		MaxAttempts: rc.MaxAttempts,
		BatchSize:   rc.BatchSize,
		LockKey:     rc.AdvisoryLockKey,
	}, a.Logger)
}

// Serve runs the HTTP server and, when enabled, the reconciliation loop until a signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := a.newPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	cfg := a.Config
	if cfg.Webhook.Secret == "" {
		a.Logger.Error().Msg("webhook.secret not configured; notifications will be rejected")
	}

	hook := webhook.NewHandler(webhook.HandlerOptions{
		Verifier:        webhook.NewVerifier(cfg.Webhook.Secret),
		Classifier:      webhook.NewClassifier(cfg.Webhook.MonitoredDestinations, cfg.Webhook.MonitoredAssets),
		Processor:       p.service,
		Recorder:        p.metrics,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
	}, a.Logger)

	routes := server.Routes{
		Webhook:  hook,
		Accounts: server.NewAccountAPI(p.store, p.store, cfg.App.DeploySalt, a.Logger),
	}
	if cfg.Metrics.Enabled {
		routes.Metrics = p.metrics.Handler()
	}
	if pinger, ok := p.store.(interface{ Ping(context.Context) error }); ok {
		routes.Ready = pinger.Ping
	}

	srv := server.New(server.Options{
		ListenAddr:      cfg.Server.ListenAddr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsPath:     cfg.Metrics.Path,
	}, routes, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if cfg.Reconciler.Enabled {
		sched, err := scheduler.New(scheduler.Options{
			Interval:     cfg.Reconciler.Interval,
			AlignToStart: cfg.Reconciler.AlignToInterval,
			StartupDelay: cfg.Reconciler.StartupDelay,
		}, a.Logger)
		if err != nil {
			return err
		}
		reconciler := a.newReconciler(p)
		g.Go(func() error {
			err := sched.Run(gctx, reconciler.Tick)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	a.Logger.Info().Str("addr", cfg.Server.ListenAddr).Bool("reconciler", cfg.Reconciler.Enabled).Msg("starting settlement service")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("settlement service stopped")
	return nil
}

// Reconcile runs a single reconciliation pass and reports its result.
func (a *App) Reconcile(ctx context.Context) (settlement.PassResult, error) {
	p, err := a.newPipeline(ctx)
	if err != nil {
		return settlement.PassResult{}, err
	}
	defer p.Close()

	return a.newReconciler(p).RunOnce(ctx)
}

// Migrate applies the database schema.
func (a *App) Migrate(ctx context.Context) error {
	store, err := a.openPostgres(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("schema applied")
	return nil
}

// Digest returns the signature header value for body under the configured secret.
func (a *App) Digest(body []byte) (string, error) {
	if a.Config.Webhook.Secret == "" {
		return "", webhook.ErrSecretNotConfigured
	}
	return webhook.Digest(body, a.Config.Webhook.Secret), nil
}

// ExportOptions hold parameters for exporting settled deposits.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
