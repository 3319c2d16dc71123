package fulfillment

import "github.com/goliatone/go-fulfillment/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type PaymentEvent = core.PaymentEvent
type EventResult = core.EventResult
type CheckoutRequest = core.CheckoutRequest
type CheckoutResult = core.CheckoutResult
type OrderDetails = core.OrderDetails
type AdvanceOrderStatusRequest = core.AdvanceOrderStatusRequest
type AdvanceServiceStatusRequest = core.AdvanceServiceStatusRequest

var (
	WithLogger               = core.WithLogger
	WithLoggerProvider       = core.WithLoggerProvider
	WithMetricsRecorder      = core.WithMetricsRecorder
	WithErrorFactory         = core.WithErrorFactory
	WithErrorMapper          = core.WithErrorMapper
	WithConfigProvider       = core.WithConfigProvider
	WithOptionsResolver      = core.WithOptionsResolver
	WithRepositoryFactory    = core.WithRepositoryFactory
	WithUnitOfWork           = core.WithUnitOfWork
	WithCatalogReader        = core.WithCatalogReader
	WithCartReader           = core.WithCartReader
	WithCheckoutProvider     = core.WithCheckoutProvider
	WithDeliverableIssuer    = core.WithDeliverableIssuer
	WithNotificationWaker    = core.WithNotificationWaker
	WithTransitionRules      = core.WithTransitionRules
	WithOrderNumberGenerator = core.WithOrderNumberGenerator
	WithClock                = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
