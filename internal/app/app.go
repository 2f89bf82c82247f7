package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"freight-procurement/internal/accessorial"
	"freight-procurement/internal/alerting"
	"freight-procurement/internal/config"
	"freight-procurement/internal/fetcher"
	"freight-procurement/internal/lifecycle"
	"freight-procurement/internal/logging"
	"freight-procurement/internal/pricing"
	"freight-procurement/internal/procurement"
	"freight-procurement/internal/ratecard"
	"freight-procurement/internal/scheduler"
	"freight-procurement/internal/scoring"
	"freight-procurement/internal/service"
	"freight-procurement/internal/storage"
)

// ErrNoDatabase is returned by commands that need persistence when none is configured.
var ErrNoDatabase = errors.New("database.dsn not configured")

// Backend is the persistence the commands need. *storage.Store and
// *storage.MemoryStore both satisfy it.
type Backend interface {
	lifecycle.Store
	storage.FuelSampleStore
	storage.AlertStore
	storage.AdvisoryLocker
	pricing.HistoryStore

	InsertBid(ctx context.Context, bid procurement.Bid) error
	InsertLane(ctx context.Context, lane procurement.Lane) error
	InsertCarrier(ctx context.Context, c procurement.Carrier) error
	ListBids(ctx context.Context, statuses []procurement.BidStatus, limit int) ([]procurement.Bid, error)
	ListEvents(ctx context.Context, bidID string) ([]procurement.Event, error)
	InsertSlab(ctx context.Context, slab ratecard.Slab) (int64, error)
	InsertAccessorial(ctx context.Context, d accessorial.Definition) error
	LoadRateCatalog(ctx context.Context) (*ratecard.Catalog, error)
	LoadAccessorialBook(ctx context.Context) (*accessorial.Book, error)
	ListCalculations(ctx context.Context, filter storage.CalculationFilter) ([]pricing.Calculation, error)
	Close()
}

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	backend  Backend
	notifier alerting.Notifier
	out      io.Writer
	now      func() time.Time
}

// Option customises an App.
type Option func(*App)

// WithBackend makes every command use backend instead of opening Postgres.
func WithBackend(backend Backend) Option {
	return func(a *App) { a.backend = backend }
}

// WithNotifier overrides the configured notification channels.
func WithNotifier(n alerting.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithOutput redirects command output.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger, opts ...Option) *App {
	a := &App{
		Config: cfg,
		Logger: logging.Component(logger, "app"),
		out:    os.Stdout,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *App) newFeed() fetcher.FuelPriceFetcher {
	return fetcher.NewFeed(fetcher.FeedOptions{
		BaseURL:   a.Config.FuelFeed.BaseURL,
		APIKey:    a.Config.FuelFeed.APIKey,
		Source:    a.Config.FuelFeed.Source,
		Timeout:   a.Config.FuelFeed.RequestTimeout,
		UserAgent: a.Config.FuelFeed.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.notifier != nil {
		return a.notifier
	}
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.Multi{
			alerting.NewLogNotifier(a.Logger),
			alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger),
		}
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newScorer() *scoring.Scorer {
	return scoring.New(a.weights(), nil)
}

func (a *App) weights() scoring.Weights {
	w := a.Config.Scoring
	return scoring.Weights{
		TypeMatch: decimal.NewFromFloat(w.TypeMatch),
		Premium:   decimal.NewFromFloat(w.Premium),
		Express:   decimal.NewFromFloat(w.Express),
		Radius:    decimal.NewFromFloat(w.Radius),
	}
}

// newPricer loads the rate catalog and accessorial book from backend.
func (a *App) newPricer(ctx context.Context, backend Backend) (*pricing.Service, error) {
	catalog, err := backend.LoadRateCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate catalog: %w", err)
	}
	book, err := backend.LoadAccessorialBook(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accessorial book: %w", err)
	}
	var history pricing.HistoryStore
	if a.Config.Pricing.RecordHistory {
		history = backend
	}
	return pricing.NewService(catalog, book, history), nil
}

func (a *App) newEngine(backend Backend, pricer lifecycle.Pricer) *lifecycle.Engine {
	return lifecycle.NewEngine(backend, lifecycle.Options{
		OpenOnPublish: a.Config.Lifecycle.OpenOnPublish,
		Scorer:        a.newScorer(),
		Pricer:        pricer,
		Now:           a.now,
	})
}

func (a *App) openStore(ctx context.Context) (Backend, func(), error) {
	if a.backend != nil {
		return a.backend, func() {}, nil
	}
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	if a.Config.Database.AutoMigrate {
		version, err := storage.Migrate(a.Config.Database.DSN, a.Config.Database.MigrationsPath)
		if err != nil {
			return nil, nil, err
		}
		a.Logger.Debug().Uint("version", version).Msg("schema migrated")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore opens the backend and fails when none is configured.
func (a *App) requireStore(ctx context.Context) (Backend, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, ErrNoDatabase
	}
	return store, closeStore, nil
}

// Run executes the long-running fuel price ingestion service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToSlot,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc := a.newService(sched, store)

	a.Logger.Info().Strs("regions", a.Config.FuelFeed.Regions).Msg("starting fuel price service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("fuel price service stopped")
	return nil
}

func (a *App) newService(sched *scheduler.Scheduler, store Backend) *service.Service {
	var (
		samples storage.FuelSampleStore
		alerts  storage.AlertStore
		catalog service.CatalogLoader
	)
	if store != nil {
		samples = store
		alerts = store
		catalog = store
	}
	return service.New(service.Options{
		Regions:   a.Config.FuelFeed.Regions,
		Currency:  a.Config.FuelFeed.Currency,
		Channels:  a.Config.Alerting.Channels,
		AlertsOn:  a.Config.Alerting.Enabled,
		Retention: a.Config.Alerting.Retention,
		LockKey:   a.Config.Scheduler.AdvisoryLockKey,
	}, sched, a.newFeed(), samples, alerts, catalog, a.newNotifier(), a.Logger)
}

// ExportOptions hold parameters for exporting historical data.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	XLSXPath  string
	Region    string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit        int
	Calculations bool
	Alerts       bool
	Bids         bool
	BidID        string
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
