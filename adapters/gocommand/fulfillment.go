package gocommand

import (
	"fmt"

	fulfillmentcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/core"
	fulfillmentquery "github.com/goliatone/go-fulfillment/query"
	"github.com/goliatone/go-command/runner"
)

type FulfillmentHandlers struct {
	Service       fulfillmentcommand.MutatingService
	Orders        fulfillmentquery.OrderReader
	Notifications fulfillmentcommand.NotificationDrainer
	Notifier      core.Notifier
}

// RegisterFulfillment registers and subscribes every fulfillment command and
// query. Notifications and Notifier are optional; the dispatch and deliver
// commands are skipped without them.
func RegisterFulfillment(adapter *RegistryAdapter, handlers FulfillmentHandlers, runnerOpts ...runner.Option) error {
	if handlers.Service == nil {
		return fmt.Errorf("gocommand: fulfillment service is required")
	}
	if handlers.Orders == nil {
		return fmt.Errorf("gocommand: order reader is required")
	}

	registrations := []func() error{
		func() error {
			_, err := RegisterAndSubscribe(adapter, fulfillmentcommand.NewProcessPaymentEventCommand(handlers.Service), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe(adapter, fulfillmentcommand.NewCreateCheckoutSessionCommand(handlers.Service), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe(adapter, fulfillmentcommand.NewAdvanceOrderStatusCommand(handlers.Service), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe(adapter, fulfillmentcommand.NewAdvanceServiceStatusCommand(handlers.Service), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe(adapter, fulfillmentcommand.NewRecordDownloadCommand(handlers.Service), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribeQuery[fulfillmentquery.GetOrderMessage, core.OrderDetails](
				adapter,
				fulfillmentquery.NewGetOrderQuery(handlers.Orders),
				runnerOpts...,
			)
			return err
		},
	}
	if handlers.Notifications != nil {
		registrations = append(registrations, func() error {
			_, err := RegisterAndSubscribe(adapter, fulfillmentcommand.NewDispatchNotificationsCommand(handlers.Notifications), runnerOpts...)
			return err
		})
	}

	if handlers.Notifier != nil {
		registrations = append(registrations, func() error {
			_, err := RegisterAndSubscribe(adapter, fulfillmentcommand.NewDeliverNotificationCommand(handlers.Notifier), runnerOpts...)
			return err
		})
	}

	for _, register := range registrations {
		if err := register(); err != nil {
			adapter.Close()
			return err
		}
	}
	return nil
}
