package query

import (
	"context"

	"github.com/goliatone/go-fulfillment/core"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (core.OrderDetails, error)
}

type GetOrderQuery struct {
	reader OrderReader
}

func NewGetOrderQuery(reader OrderReader) *GetOrderQuery {
	return &GetOrderQuery{reader: reader}
}

func (q *GetOrderQuery) Query(ctx context.Context, msg GetOrderMessage) (core.OrderDetails, error) {
	if q == nil || q.reader == nil {
		return core.OrderDetails{}, queryDependencyError("query: order reader is required")
	}
	return q.reader.GetOrder(ctx, msg.OrderID)
}
