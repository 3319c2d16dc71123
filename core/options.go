package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StoreFactory exposes the unit of work built over a persistence client.
type StoreFactory interface {
	UnitOfWork() UnitOfWork
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	repositoryFactory any
	unitOfWork        UnitOfWork
	catalog           CatalogReader
	carts             CartReader
	checkoutProvider  CheckoutProvider
	deliverableIssuer DeliverableIssuer
	notificationWaker NotificationWaker
	transitionRules   map[EventKind]TransitionRule
	orderNumbers      OrderNumberGenerator
	clock             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

// WithRepositoryFactory accepts anything implementing StoreFactory.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithUnitOfWork(uow UnitOfWork) Option {
	return func(b *serviceBuilder) {
		b.unitOfWork = uow
	}
}

func WithCatalogReader(catalog CatalogReader) Option {
	return func(b *serviceBuilder) {
		b.catalog = catalog
	}
}

func WithCartReader(carts CartReader) Option {
	return func(b *serviceBuilder) {
		b.carts = carts
	}
}

func WithCheckoutProvider(provider CheckoutProvider) Option {
	return func(b *serviceBuilder) {
		b.checkoutProvider = provider
	}
}

func WithDeliverableIssuer(issuer DeliverableIssuer) Option {
	return func(b *serviceBuilder) {
		b.deliverableIssuer = issuer
	}
}

func WithNotificationWaker(waker NotificationWaker) Option {
	return func(b *serviceBuilder) {
		b.notificationWaker = waker
	}
}

func WithTransitionRules(rules map[EventKind]TransitionRule) Option {
	return func(b *serviceBuilder) {
		b.transitionRules = rules
	}
}

func WithOrderNumberGenerator(generator OrderNumberGenerator) Option {
	return func(b *serviceBuilder) {
		b.orderNumbers = generator
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("fulfillment", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		transitionRules: DefaultTransitionRules(),
		orderNumbers:    NewOrderNumber,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return fulfillmentErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

type layerBuilder struct {
	includeZero bool
	values      map[string]any
}

func (l layerBuilder) str(key string, value string) {
	if l.includeZero || strings.TrimSpace(value) != "" {
		l.values[key] = value
	}
}

func (l layerBuilder) num(key string, value int) {
	if l.includeZero || value != 0 {
		l.values[key] = value
	}
}

func (l layerBuilder) dur(key string, value time.Duration) {
	if l.includeZero || value != 0 {
		l.values[key] = value
	}
}

func (l layerBuilder) section() layerBuilder {
	return layerBuilder{includeZero: l.includeZero, values: map[string]any{}}
}

func (l layerBuilder) attach(key string, child layerBuilder) {
	if len(child.values) > 0 {
		l.values[key] = child.values
	}
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	root := layerBuilder{includeZero: includeZero, values: map[string]any{}}
	root.str("service_name", cfg.ServiceName)
	root.str("provider_id", cfg.ProviderID)

	webhook := root.section()
	webhook.str("secret", cfg.Webhook.Secret)
	webhook.dur("tolerance", cfg.Webhook.Tolerance)
	webhook.str("signature_header", cfg.Webhook.SignatureHeader)
	webhook.dur("burst_window", cfg.Webhook.BurstWindow)
	root.attach("webhook", webhook)

	deliverables := root.section()
	deliverables.dur("ttl", cfg.Deliverables.TTL)
	deliverables.str("base_url", cfg.Deliverables.BaseURL)
	deliverables.str("signing_key", cfg.Deliverables.SigningKey)
	root.attach("deliverables", deliverables)

	notifications := root.section()
	notifications.num("batch_size", cfg.Notifications.BatchSize)
	notifications.num("max_attempts", cfg.Notifications.MaxAttempts)
	notifications.dur("initial_backoff", cfg.Notifications.InitialBackoff)
	notifications.dur("max_backoff", cfg.Notifications.MaxBackoff)
	notifications.dur("poll_interval", cfg.Notifications.PollInterval)
	notifications.dur("lease_timeout", cfg.Notifications.LeaseTimeout)
	root.attach("notifications", notifications)

	checkout := root.section()
	checkout.str("default_currency", cfg.Checkout.DefaultCurrency)
	checkout.str("success_url", cfg.Checkout.SuccessURL)
	checkout.str("cancel_url", cfg.Checkout.CancelURL)
	checkout.num("max_quantity", cfg.Checkout.MaxQuantity)
	root.attach("checkout", checkout)

	return root.values
}
