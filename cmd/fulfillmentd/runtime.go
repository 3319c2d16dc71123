package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-fulfillment/adapters/gocommand"
	"github.com/goliatone/go-fulfillment/adapters/gojob"
	"github.com/goliatone/go-fulfillment/adapters/gologger"
	fulfillmentprometheus "github.com/goliatone/go-fulfillment/adapters/prometheus"
	"github.com/goliatone/go-fulfillment/api"
	"github.com/goliatone/go-fulfillment/core"
	fulfillmentmigrations "github.com/goliatone/go-fulfillment/migrations"
	"github.com/goliatone/go-fulfillment/providers/stripe"
	"github.com/goliatone/go-fulfillment/security"
	sqlstore "github.com/goliatone/go-fulfillment/store/sql"
	"github.com/goliatone/go-fulfillment/webhooks"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const queueResolverKey = "fulfillment.jobs"

type database struct {
	client  *persistence.Client
	dialect string
}

// openDatabase opens the configured driver and registers the embedded schema
// for its dialect. Migrate still has to be called by the caller.
func openDatabase(ctx context.Context, cfg databaseConfig) (*database, error) {
	dialect, err := fulfillmentmigrations.DialectForDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("fulfillmentd: database.dsn is required")
	}

	var (
		driverName  string
		bunDialect  schema.Dialect
		maxOpenConn int
	)
	switch dialect {
	case fulfillmentmigrations.DialectPostgres:
		driverName, bunDialect = "postgres", pgdialect.New()
	default:
		driverName, bunDialect, maxOpenConn = "sqlite3", sqlitedialect.New(), 1
	}

	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("fulfillmentd: open %s: %w", driverName, err)
	}
	if maxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConn)
	}
	cfg.Driver = driverName
	client, err := persistence.New(cfg, sqlDB, bunDialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("fulfillmentd: persistence client: %w", err)
	}

	_, err = fulfillmentmigrations.Register(ctx, func(_ context.Context, registered string, _ string, fsys fs.FS) error {
		if registered != dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, fulfillmentmigrations.WithValidationTargets(dialect))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &database{client: client, dialect: dialect}, nil
}

func (d *database) migrate(ctx context.Context) error {
	if err := d.client.Migrate(ctx); err != nil {
		return fmt.Errorf("fulfillmentd: migrate: %w", err)
	}
	return fulfillmentmigrations.Verify(ctx, d.client.DB(), d.dialect)
}

func (d *database) ping(ctx context.Context) error {
	return d.client.DB().PingContext(ctx)
}

func (d *database) close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

// application is the fully wired process: storage, service, notification
// pipeline and the go-command registry.
type application struct {
	config     appConfig
	logger     glog.Logger
	loggers    gologger.Loggers
	db         *database
	factory    *sqlstore.RepositoryFactory
	metrics    *fulfillmentprometheus.Recorder
	links      *security.SignedURLIssuer
	service    *core.Service
	dispatcher *core.NotificationDispatcher
	outbox     *gojob.OutboxQueue
	worker     *worker.Worker
	commands   *gocommand.RegistryAdapter
}

type buildOptions struct {
	// worker runs deliveries on a go-job worker leasing rows straight from
	// the outbox. Without it only the one-shot dispatch pass is wired.
	worker bool
}

func buildApplication(ctx context.Context, cfg appConfig, provider glog.LoggerProvider, opts buildOptions) (*application, error) {
	if err := openSealedSecrets(ctx, &cfg); err != nil {
		return nil, err
	}
	app := &application{config: cfg}
	app.loggers = gologger.Resolve(provider, nil)
	app.logger = app.loggers.Service

	if strings.TrimSpace(cfg.Core.Deliverables.SigningKey) == "" {
		return nil, fmt.Errorf("fulfillmentd: deliverables.signing_key is required")
	}
	links, err := security.NewSignedURLIssuer(cfg.Core.Deliverables.BaseURL, []byte(cfg.Core.Deliverables.SigningKey))
	if err != nil {
		return nil, err
	}
	app.links = links

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.db = db
	if err := db.migrate(ctx); err != nil {
		_ = app.close()
		return nil, err
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(db.client)
	if err != nil {
		_ = app.close()
		return nil, err
	}
	app.factory = factory
	app.metrics = fulfillmentprometheus.NewRecorder()

	catalog, err := cachedCatalog(factory, cfg.Catalog)
	if err != nil {
		_ = app.close()
		return nil, err
	}

	notifier := core.LogNotifier{Logger: app.logger}
	dispatcherConfig := cfg.Core.Notifications.DispatcherConfig()
	app.dispatcher, err = core.NewNotificationDispatcher(
		factory.NotificationOutboxStore(),
		core.NotifierPublisher{Notifier: notifier},
		dispatcherConfig,
		core.WithDispatcherLogger(app.logger),
		core.WithDispatcherMetrics(app.metrics),
	)
	if err != nil {
		_ = app.close()
		return nil, err
	}
	var waker core.NotificationWaker = app.dispatcher
	if opts.worker {
		app.outbox, err = gojob.NewOutboxQueue(factory.NotificationOutboxStore(), dispatcherConfig,
			gojob.WithQueueLogger(app.loggers.Jobs),
			gojob.WithQueueMetrics(app.metrics),
		)
		if err != nil {
			_ = app.close()
			return nil, err
		}
		waker = app.outbox
	}

	serviceOpts := []core.Option{
		core.WithLoggerProvider(app.loggers.Provider),
		core.WithMetricsRecorder(app.metrics),
		core.WithConfigProvider(core.NewCfgxConfigProvider(core.NewStaticRawConfigLoader(cfg.Raw))),
		core.WithRepositoryFactory(factory),
		core.WithCatalogReader(catalog),
		core.WithDeliverableIssuer(links),
		core.WithNotificationWaker(waker),
	}
	if checkout, checkoutErr := checkoutProvider(cfg.Stripe); checkoutErr != nil {
		_ = app.close()
		return nil, checkoutErr
	} else if checkout != nil {
		serviceOpts = append(serviceOpts, core.WithCheckoutProvider(checkout))
	} else {
		app.logger.Warn("stripe.secret_key is not set; checkout sessions are disabled")
	}
	app.service, err = core.NewService(cfg.Core, serviceOpts...)
	if err != nil {
		_ = app.close()
		return nil, err
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	app.commands = gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := app.commands.AddQueueResolver(queueResolverKey, queueRegistry); err != nil {
		_ = app.close()
		return nil, err
	}
	if err := gocommand.RegisterFulfillment(app.commands, gocommand.FulfillmentHandlers{
		Service:       app.service,
		Orders:        app.service,
		Notifications: app.dispatcher,
		Notifier:      notifier,
	}); err != nil {
		_ = app.close()
		return nil, err
	}
	if err := app.commands.Initialize(); err != nil {
		_ = app.close()
		return nil, err
	}
	if opts.worker {
		app.worker, err = gojob.NewNotificationWorker(app.outbox, queueRegistry, dispatcherConfig,
			worker.WithLogger(app.loggers.Jobs),
			worker.WithHooks(gojob.NewMetricsHook(app.metrics)),
		)
		if err != nil {
			_ = app.close()
			return nil, err
		}
	}
	return app, nil
}

func cachedCatalog(factory *sqlstore.RepositoryFactory, cfg catalogConfig) (core.CatalogReader, error) {
	if cfg.CacheTTL <= 0 {
		return factory.CatalogStore(), nil
	}
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = cfg.CacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("fulfillmentd: catalog cache: %w", err)
	}
	return sqlstore.NewCachedCatalogStore(factory.CatalogStore(), cacheService)
}

func checkoutProvider(cfg stripeConfig) (core.CheckoutProvider, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, nil
	}
	return stripe.NewCheckoutClient(nil, stripe.CheckoutConfig{
		SecretKey:  cfg.SecretKey,
		APIBaseURL: cfg.APIBaseURL,
		APIVersion: cfg.APIVersion,
		Timeout:    cfg.Timeout,
	})
}

func (a *application) webhookProcessor() *webhooks.Processor {
	processor := webhooks.NewProcessor(
		a.config.Core.ProviderID,
		webhooks.NewSignatureVerifier(a.config.Core.Webhook.Secret, a.config.Core.Webhook.Tolerance),
		stripe.NewEventDecoder(),
		a.service,
	)
	if header := strings.TrimSpace(a.config.Core.Webhook.SignatureHeader); header != "" {
		processor.SignatureHeader = header
	}
	if window := a.config.Core.Webhook.BurstWindow; window > 0 {
		processor.Burst = webhooks.NewBurstController(webhooks.BurstOptions{
			Mode:   webhooks.BurstModeCoalesce,
			Window: window,
		})
	}
	processor.Metrics = a.metrics
	return processor
}

func (a *application) router() (http.Handler, error) {
	processor := a.webhookProcessor()

	httpLogger := a.logger
	if a.loggers.Provider != nil {
		if named := a.loggers.Provider.GetLogger("fulfillment.http"); named != nil {
			httpLogger = named
		}
	}
	return api.NewRouter(api.Dependencies{
		Service:        a.service,
		Webhooks:       processor,
		Links:          a.links,
		Metrics:        a.metrics.Handler(),
		Health:         a.db.ping,
		Logger:         httpLogger,
		MaxBodyBytes:   a.config.HTTP.MaxBodyBytes,
		RequestTimeout: a.config.HTTP.RequestTimeout,
	})
}

func (a *application) close() error {
	if a == nil {
		return nil
	}
	if a.commands != nil {
		a.commands.Close()
	}
	var err error
	if a.db != nil {
		err = errors.Join(err, a.db.close())
	}
	return err
}

// secretKeyRing builds the key ring from security.app_key and the retired keys.
// It returns nil when no application key is configured.
func secretKeyRing(cfg securityConfig) (*security.SecretKeyRing, error) {
	if strings.TrimSpace(cfg.AppKey) == "" {
		if len(cfg.RetiredKeys) > 0 {
			return nil, fmt.Errorf("fulfillmentd: security.retired_keys needs security.app_key")
		}
		return nil, nil
	}
	primary, err := security.NewSecretBox([]byte(cfg.AppKey), security.WithKeyID(cfg.KeyID))
	if err != nil {
		return nil, fmt.Errorf("fulfillmentd: security.app_key: %w", err)
	}
	retired := make([]*security.SecretBox, 0, len(cfg.RetiredKeys))
	for keyID, material := range cfg.RetiredKeys {
		box, err := security.NewSecretBox([]byte(material), security.WithKeyID(keyID))
		if err != nil {
			return nil, fmt.Errorf("fulfillmentd: security.retired_keys.%s: %w", keyID, err)
		}
		retired = append(retired, box)
	}
	return security.NewSecretKeyRing(primary, retired...)
}

// openSealedSecrets replaces sealed webhook and signing secrets in cfg with
// their plaintext.
func openSealedSecrets(ctx context.Context, cfg *appConfig) error {
	ring, err := secretKeyRing(cfg.Security)
	if err != nil {
		return err
	}
	var opener security.SecretOpener
	if ring != nil {
		opener = ring
	}
	targets := []struct {
		key   string
		value *string
	}{
		{key: "webhook.secret", value: &cfg.Core.Webhook.Secret},
		{key: "deliverables.signing_key", value: &cfg.Core.Deliverables.SigningKey},
		{key: "stripe.secret_key", value: &cfg.Stripe.SecretKey},
	}
	for _, target := range targets {
		opened, err := security.ResolveSecret(ctx, opener, *target.value)
		if err != nil {
			return fmt.Errorf("fulfillmentd: %s: %w", target.key, err)
		}
		*target.value = opened
	}
	return nil
}
