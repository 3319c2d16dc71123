package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

type checkoutItemBody struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type checkoutSessionBody struct {
	Items         []checkoutItemBody `json:"items"`
	CartID        string             `json:"cartId"`
	CustomerEmail string             `json:"customerEmail"`
	CustomerName  string             `json:"customerName"`
	CustomerPhone string             `json:"customerPhone"`
	Currency      string             `json:"currency"`
	SuccessURL    string             `json:"successUrl"`
	CancelURL     string             `json:"cancelUrl"`
	Metadata      map[string]string  `json:"metadata"`
}

func (b checkoutSessionBody) toRequest() core.CheckoutRequest {
	lines := make([]core.CheckoutLine, 0, len(b.Items))
	for _, item := range b.Items {
		lines = append(lines, core.CheckoutLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	return core.CheckoutRequest{
		Lines:         lines,
		CartID:        strings.TrimSpace(b.CartID),
		CustomerEmail: strings.TrimSpace(b.CustomerEmail),
		CustomerName:  strings.TrimSpace(b.CustomerName),
		CustomerPhone: strings.TrimSpace(b.CustomerPhone),
		Currency:      strings.TrimSpace(b.Currency),
		SuccessURL:    strings.TrimSpace(b.SuccessURL),
		CancelURL:     strings.TrimSpace(b.CancelURL),
		Metadata:      b.Metadata,
	}
}

type statusBody struct {
	Status string `json:"status"`
}

type dataEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type checkoutSessionResponse struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	SessionID   string `json:"sessionId"`
	URL         string `json:"url"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

type orderItemResponse struct {
	ID              string `json:"id"`
	ProductID       string `json:"productId"`
	ProductType     string `json:"productType"`
	Title           string `json:"title"`
	UnitPriceCents  int64  `json:"unitPriceCents"`
	Quantity        int    `json:"quantity"`
	TotalPriceCents int64  `json:"totalPriceCents"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	OrderNumber   string              `json:"orderNumber"`
	Status        string              `json:"status"`
	ServiceStatus string              `json:"serviceStatus,omitempty"`
	AmountCents   int64               `json:"amountCents"`
	Currency      string              `json:"currency"`
	CustomerEmail string              `json:"customerEmail,omitempty"`
	CustomerName  string              `json:"customerName,omitempty"`
	PaidAt        *time.Time          `json:"paidAt,omitempty"`
	FulfilledAt   *time.Time          `json:"fulfilledAt,omitempty"`
	CancelledAt   *time.Time          `json:"cancelledAt,omitempty"`
	RefundedAt    *time.Time          `json:"refundedAt,omitempty"`
	FailedAt      *time.Time          `json:"failedAt,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
	Items         []orderItemResponse `json:"items"`
}

type invoiceResponse struct {
	ID            string     `json:"id"`
	InvoiceNumber string     `json:"invoiceNumber"`
	Status        string     `json:"status"`
	AmountCents   int64      `json:"amountCents"`
	Currency      string     `json:"currency"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	RefundedAt    *time.Time `json:"refundedAt,omitempty"`
}

type deliverableResponse struct {
	ID               string     `json:"id"`
	ProductID        string     `json:"productId"`
	Title            string     `json:"title"`
	AccessURL        string     `json:"accessUrl,omitempty"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	DownloadCount    int        `json:"downloadCount"`
	LastDownloadedAt *time.Time `json:"lastDownloadedAt,omitempty"`
	Revoked          bool       `json:"revoked"`
}

type orderDetailsResponse struct {
	Order        orderResponse         `json:"order"`
	Invoice      *invoiceResponse      `json:"invoice,omitempty"`
	Deliverables []deliverableResponse `json:"deliverables"`
}

func newOrderResponse(order core.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:              item.ID,
			ProductID:       item.ProductID,
			ProductType:     string(item.ProductType),
			Title:           item.Title,
			UnitPriceCents:  item.UnitPriceCents,
			Quantity:        item.Quantity,
			TotalPriceCents: item.TotalPriceCents,
		})
	}
	return orderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		ServiceStatus: string(order.ServiceStatus),
		AmountCents:   order.AmountCents,
		Currency:      order.Currency,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		PaidAt:        order.PaidAt,
		FulfilledAt:   order.FulfilledAt,
		CancelledAt:   order.CancelledAt,
		RefundedAt:    order.RefundedAt,
		FailedAt:      order.FailedAt,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
		Items:         items,
	}
}

func newDeliverableResponse(deliverable core.Deliverable) deliverableResponse {
	return deliverableResponse{
		ID:               deliverable.ID,
		ProductID:        deliverable.ProductID,
		Title:            deliverable.Title,
		AccessURL:        deliverable.AccessURL,
		ExpiresAt:        deliverable.ExpiresAt,
		DownloadCount:    deliverable.DownloadCount,
		LastDownloadedAt: deliverable.LastDownloadedAt,
		Revoked:          deliverable.RevokedAt != nil,
	}
}

func newOrderDetailsResponse(details core.OrderDetails) orderDetailsResponse {
	out := orderDetailsResponse{
		Order:        newOrderResponse(details.Order),
		Deliverables: make([]deliverableResponse, 0, len(details.Deliverables)),
	}
	if details.Invoice != nil {
		out.Invoice = &invoiceResponse{
			ID:            details.Invoice.ID,
			InvoiceNumber: details.Invoice.InvoiceNumber,
			Status:        string(details.Invoice.Status),
			AmountCents:   details.Invoice.AmountCents,
			Currency:      details.Invoice.Currency,
			PaidAt:        details.Invoice.PaidAt,
			RefundedAt:    details.Invoice.RefundedAt,
		}
	}
	for _, deliverable := range details.Deliverables {
		out.Deliverables = append(out.Deliverables, newDeliverableResponse(deliverable))
	}
	return out
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataEnvelope{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
