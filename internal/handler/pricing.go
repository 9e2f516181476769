package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ecomdesk/promo-engine/internal/domain/cart"
	"github.com/ecomdesk/promo-engine/internal/domain/promo"
)

type pricingRequest struct {
	Cart       cartRequest `json:"cart"`
	CouponCode string      `json:"couponCode"`
	OrderID    string      `json:"orderId"`
}

type cartRequest struct {
	CustomerID   string        `json:"customerId"`
	IsFirstOrder bool          `json:"isFirstOrder"`
	Lines        []lineRequest `json:"lines"`
}

type lineRequest struct {
	ProductID   string          `json:"productId"`
	VariantID   string          `json:"variantId"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	CategoryIDs []string        `json:"categoryIds"`
}

// Preview handles POST /api/pricing/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodePricingRequest(r)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.pricing.Preview(ctx, req.toCart(), req.CouponCode)
	if err != nil {
		h.writePricingError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, encodeResult(res))
}

// Finalize handles POST /api/pricing/finalize.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodePricingRequest(r)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OrderID == "" {
		writeError(ctx, w, http.StatusBadRequest, "orderId is required")
		return
	}

	res, err := h.pricing.Finalize(ctx, req.toCart(), req.CouponCode, req.OrderID)
	if err != nil {
		h.writePricingError(w, r, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, encodeResult(res))
}

func decodePricingRequest(r *http.Request) (pricingRequest, error) {
	var req pricingRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return pricingRequest{}, errors.Wrap(err, "decode request")
	}
	if len(req.Cart.Lines) == 0 {
		return pricingRequest{}, errors.New("cart must contain at least one line")
	}
	for _, l := range req.Cart.Lines {
		if l.ProductID == "" {
			return pricingRequest{}, errors.New("line productId is required")
		}
		if l.Quantity <= 0 {
			return pricingRequest{}, errors.Errorf("invalid quantity %d for product %s", l.Quantity, l.ProductID)
		}
		if l.UnitPrice.IsNegative() {
			return pricingRequest{}, errors.Errorf("negative unit price for product %s", l.ProductID)
		}
	}
	return req, nil
}

func (req pricingRequest) toCart() cart.Cart {
	lines := make([]cart.Line, len(req.Cart.Lines))
	for i, l := range req.Cart.Lines {
		lines[i] = cart.Line{
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			CategoryIDs: l.CategoryIDs,
		}
	}
	return cart.Cart{
		Lines:        lines,
		CustomerID:   req.Cart.CustomerID,
		IsFirstOrder: req.Cart.IsFirstOrder,
	}
}

func (h *Handler) writePricingError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if errors.Is(err, promo.ErrCodeNotFound) {
		writeError(ctx, w, http.StatusBadRequest, "invalid coupon code")
		return
	}
	zctx.From(ctx).Error("resolve pricing", zap.Error(err))
	writeError(ctx, w, http.StatusInternalServerError, "internal error")
}

func encodeResult(res *promo.PricingResult) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("appliedRules", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, ar := range res.AppliedRules {
					e.Obj(func(e *jx.Encoder) {
						e.Field("ruleId", func(e *jx.Encoder) { e.Str(ar.RuleID) })
						e.Field("ruleKind", func(e *jx.Encoder) { e.Str(string(ar.RuleKind)) })
						e.Field("adjustment", func(e *jx.Encoder) { e.Raw([]byte(ar.Adjustment.String())) })
					})
				}
			})
		})
		e.Field("rejectedRules", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, rr := range res.RejectedRules {
					e.Obj(func(e *jx.Encoder) {
						e.Field("ruleId", func(e *jx.Encoder) { e.Str(rr.RuleID) })
						e.Field("reason", func(e *jx.Encoder) { e.Str(rr.Reason) })
					})
				}
			})
		})
		e.Field("totalDiscount", func(e *jx.Encoder) { e.Raw([]byte(res.TotalDiscount.String())) })
		e.Field("finalTotal", func(e *jx.Encoder) { e.Raw([]byte(res.FinalTotal.String())) })
		e.Field("shippingWaived", func(e *jx.Encoder) { e.Bool(res.ShippingWaived) })
	})
	return e.Bytes()
}
