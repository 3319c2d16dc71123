package query

import (
	"github.com/goliatone/go-fulfillment/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetOrderMessage, core.OrderDetails] = (*GetOrderQuery)(nil)

	_ OrderReader = (*core.Service)(nil)
)
