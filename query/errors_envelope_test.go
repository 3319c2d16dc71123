package query

import (
	"context"
	"net/http"
	"testing"

	"github.com/goliatone/go-fulfillment/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestGetOrderMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetOrderMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.FulfillmentErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.FulfillmentErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 {
		t.Fatalf("expected validation errors in envelope")
	}
	if validation[0].Field != "order_id" {
		t.Fatalf("expected order_id validation field, got %q", validation[0].Field)
	}
}

func TestGetOrderQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *GetOrderQuery
	_, err := q.Query(context.Background(), GetOrderMessage{OrderID: "order-1"})
	if err == nil {
		t.Fatalf("expected dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.FulfillmentErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.FulfillmentErrorInternal, rich.TextCode)
	}
}
