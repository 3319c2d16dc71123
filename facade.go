package fulfillment

import (
	"fmt"

	fulfillmentcommand "github.com/goliatone/go-fulfillment/command"
	fulfillmentquery "github.com/goliatone/go-fulfillment/query"
)

// CommandQueryService is everything the facade needs from the core service.
type CommandQueryService interface {
	fulfillmentcommand.MutatingService
	fulfillmentquery.OrderReader
}

type Commands struct {
	ProcessPaymentEvent   *fulfillmentcommand.ProcessPaymentEventCommand
	CreateCheckoutSession *fulfillmentcommand.CreateCheckoutSessionCommand
	AdvanceOrderStatus    *fulfillmentcommand.AdvanceOrderStatusCommand
	AdvanceServiceStatus  *fulfillmentcommand.AdvanceServiceStatusCommand
	RecordDownload        *fulfillmentcommand.RecordDownloadCommand
	// DispatchNotifications is nil unless a drainer was supplied.
	DispatchNotifications *fulfillmentcommand.DispatchNotificationsCommand
}

type Queries struct {
	GetOrder *fulfillmentquery.GetOrderQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	drainer fulfillmentcommand.NotificationDrainer
}

func WithNotificationDrainer(drainer fulfillmentcommand.NotificationDrainer) FacadeOption {
	return func(options *facadeOptions) {
		options.drainer = drainer
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("fulfillment: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		ProcessPaymentEvent:   fulfillmentcommand.NewProcessPaymentEventCommand(service),
		CreateCheckoutSession: fulfillmentcommand.NewCreateCheckoutSessionCommand(service),
		AdvanceOrderStatus:    fulfillmentcommand.NewAdvanceOrderStatusCommand(service),
		AdvanceServiceStatus:  fulfillmentcommand.NewAdvanceServiceStatusCommand(service),
		RecordDownload:        fulfillmentcommand.NewRecordDownloadCommand(service),
	}
	if cfg.drainer != nil {
		facade.commands.DispatchNotifications = fulfillmentcommand.NewDispatchNotificationsCommand(cfg.drainer)
	}
	facade.queries = Queries{
		GetOrder: fulfillmentquery.NewGetOrderQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
