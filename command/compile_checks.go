package command

import (
	"github.com/goliatone/go-fulfillment/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[ProcessPaymentEventMessage]   = (*ProcessPaymentEventCommand)(nil)
	_ gocmd.Commander[CreateCheckoutSessionMessage] = (*CreateCheckoutSessionCommand)(nil)
	_ gocmd.Commander[AdvanceOrderStatusMessage]    = (*AdvanceOrderStatusCommand)(nil)
	_ gocmd.Commander[AdvanceServiceStatusMessage]  = (*AdvanceServiceStatusCommand)(nil)
	_ gocmd.Commander[RecordDownloadMessage]        = (*RecordDownloadCommand)(nil)
	_ gocmd.Commander[DispatchNotificationsMessage] = (*DispatchNotificationsCommand)(nil)
	_ gocmd.Commander[DeliverNotificationMessage]   = (*DeliverNotificationCommand)(nil)

	_ MutatingService     = (*core.Service)(nil)
	_ NotificationDrainer = (*core.NotificationDispatcher)(nil)
)
