// Package handler exposes the pricing engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/ecomdesk/promo-engine/internal/domain/cart"
	"github.com/ecomdesk/promo-engine/internal/domain/promo"
)

// PricingService is the part of the engine the HTTP layer needs.
type PricingService interface {
	Preview(ctx context.Context, c cart.Cart, couponCode string) (*promo.PricingResult, error)
	Finalize(ctx context.Context, c cart.Cart, couponCode, orderID string) (*promo.PricingResult, error)
}

// Handler serves the pricing API.
type Handler struct {
	pricing PricingService
}

// New creates a Handler over the given pricing service.
func New(pricing PricingService) *Handler {
	return &Handler{pricing: pricing}
}

// Routes mounts the pricing endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/pricing/preview", h.Preview)
	r.Post("/api/pricing/finalize", h.Finalize)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		zctx.From(ctx).Error("write response", zap.Error(err))
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(ctx, w, status, e.Bytes())
}
