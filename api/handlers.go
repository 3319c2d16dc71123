package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-fulfillment/adapters/gocommand"
	fulfillmentcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/core"
	fulfillmentquery "github.com/goliatone/go-fulfillment/query"
	"github.com/goliatone/go-fulfillment/security"
	"github.com/goliatone/go-fulfillment/webhooks"
	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
)

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// receiveWebhook hands the exact wire bytes to the processor; the body must
// not be decoded before the signature is checked.
func (h *handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.writeError(w, r, badRequest("api: webhook body could not be read"))
		return
	}
	result, err := h.webhooks.Process(r.Context(), webhooks.Delivery{
		Headers: webhooks.HeadersFromHTTP(r.Header),
		Body:    body,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, result.StatusCode, map[string]any{"received": true})
}

func (h *handler) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var body checkoutSessionBody
	if err := h.decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req := body.toRequest()
	if req.CartID == "" {
		if cookie, err := r.Cookie(CartCookieName); err == nil {
			req.CartID = strings.TrimSpace(cookie.Value)
		}
	}

	result, err := execute[fulfillmentcommand.CreateCheckoutSessionMessage, core.CheckoutResult](
		r.Context(),
		h.commands.CreateCheckoutSession,
		fulfillmentcommand.CreateCheckoutSessionMessage{Request: req},
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.CartID != "" && len(body.Items) == 0 {
		http.SetCookie(w, &http.Cookie{Name: CartCookieName, Value: "", Path: "/", MaxAge: -1})
	}
	writeData(w, http.StatusCreated, checkoutSessionResponse{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		SessionID:   result.SessionID,
		URL:         result.URL,
		AmountCents: result.AmountCents,
		Currency:    result.Currency,
	})
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	msg := fulfillmentquery.GetOrderMessage{OrderID: chi.URLParam(r, "orderID")}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		h.writeError(w, r, err)
		return
	}
	details, err := h.queries.GetOrder.Query(r.Context(), msg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newOrderDetailsResponse(details))
}

func (h *handler) advanceOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := h.decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := core.ParseOrderStatus(body.Status)
	if err != nil {
		h.writeError(w, r, badRequest(err.Error()))
		return
	}
	order, err := execute[fulfillmentcommand.AdvanceOrderStatusMessage, core.Order](
		r.Context(),
		h.commands.AdvanceOrderStatus,
		fulfillmentcommand.AdvanceOrderStatusMessage{Request: core.AdvanceOrderStatusRequest{
			OrderID:   chi.URLParam(r, "orderID"),
			Status:    status,
			RequestID: requestID(r),
		}},
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newOrderResponse(order))
}

func (h *handler) advanceServiceStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := h.decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := core.ParseServiceStatus(body.Status)
	if err != nil {
		h.writeError(w, r, badRequest(err.Error()))
		return
	}
	order, err := execute[fulfillmentcommand.AdvanceServiceStatusMessage, core.Order](
		r.Context(),
		h.commands.AdvanceServiceStatus,
		fulfillmentcommand.AdvanceServiceStatusMessage{Request: core.AdvanceServiceStatusRequest{
			OrderID:   chi.URLParam(r, "orderID"),
			Status:    status,
			RequestID: requestID(r),
		}},
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newOrderResponse(order))
}

// download checks the link signature before touching storage, so forged or
// stale links never reach the download counter.
func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	deliverableID := chi.URLParam(r, "deliverableID")
	if err := h.links.Verify(deliverableID, r.URL.Query()); err != nil {
		h.writeError(w, r, security.AccessError(err))
		return
	}
	deliverable, err := execute[fulfillmentcommand.RecordDownloadMessage, core.Deliverable](
		r.Context(),
		h.commands.RecordDownload,
		fulfillmentcommand.RecordDownloadMessage{DeliverableID: deliverableID},
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newDeliverableResponse(deliverable))
}

func (h *handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("api: request body is required")
		}
		return badRequest("api: invalid json body: " + err.Error())
	}
	return nil
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := core.MapError(err)
	if mapped == nil {
		return
	}
	status := mapped.Code
	if status < 400 || status > 599 {
		status = core.FulfillmentHTTPStatus(mapped.Category)
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"status", status,
			"error", err.Error(),
		)
	}
	writeJSON(w, status, errorEnvelope{
		Success: false,
		Error: errorBody{
			Code:    mapped.TextCode,
			Message: publicMessage(mapped, status),
		},
	})
}

func execute[T any, R any](ctx context.Context, cmd gocmd.Commander[T], msg T) (R, error) {
	var zero R
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	value, _ := collector.Load()
	return value, nil
}

// requestID reads the Idempotency-Key header. Empty lets the core mint one.
func requestID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func badRequest(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.FulfillmentErrorBadInput)
}

func publicMessage(err *goerrors.Error, status int) string {
	if status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Message
}
