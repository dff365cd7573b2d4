package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cartkit/promo-engine/internal/domain/checkout"
	"github.com/cartkit/promo-engine/internal/domain/promotion"
)

type quoteItemDTO struct {
	ProductID         string   `json:"product_id" validate:"required"`
	CategoryIDs       []string `json:"category_ids"`
	Brand             string   `json:"brand"`
	Quantity          int      `json:"quantity" validate:"gt=0"`
	UnitPriceMinor    int64    `json:"unit_price_minor" validate:"gte=0"`
	LineSubtotalMinor int64    `json:"line_subtotal_minor" validate:"gte=0"`
}

type quoteDTO struct {
	UserID        string         `json:"user_id"`
	Segments      []string       `json:"segments"`
	Roles         []string       `json:"roles"`
	Items         []quoteItemDTO `json:"items" validate:"required,min=1,dive"`
	ShippingMinor int64          `json:"shipping_minor" validate:"gte=0"`
	City          string         `json:"city"`
	Code          string         `json:"code"`
}

func (d *quoteDTO) toRequest() checkout.QuoteRequest {
	items := make([]promotion.Item, len(d.Items))
	for i, it := range d.Items {
		items[i] = promotion.Item{
			ProductID:         it.ProductID,
			CategoryIDs:       it.CategoryIDs,
			Brand:             it.Brand,
			Quantity:          it.Quantity,
			UnitPriceMinor:    it.UnitPriceMinor,
			LineSubtotalMinor: it.LineSubtotalMinor,
		}
	}
	return checkout.QuoteRequest{
		User: promotion.User{
			UserID:   d.UserID,
			Segments: d.Segments,
			Roles:    d.Roles,
		},
		Items:         items,
		ShippingMinor: d.ShippingMinor,
		City:          d.City,
		Code:          d.Code,
	}
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	h.priceCheckout(w, r, h.checkout.Quote)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	h.priceCheckout(w, r, h.checkout.Preview)
}

func (h *Handler) priceCheckout(
	w http.ResponseWriter, r *http.Request,
	price func(context.Context, checkout.QuoteRequest) (*checkout.Quote, error),
) {
	var dto quoteDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed checkout payload")
		return
	}
	if err := h.validate.Struct(&dto); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	quote, err := price(r.Context(), dto.toRequest())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type appliedPromotionDTO struct {
	PromotionID   string `json:"promotion_id" validate:"required"`
	DiscountMinor int64  `json:"discount_minor" validate:"gte=0"`
}

type applyDTO struct {
	UserID    string                `json:"user_id"`
	Applied   []appliedPromotionDTO `json:"applied" validate:"required,min=1,dive"`
	BatchCode string                `json:"batch_code"`
}

// applyPromotions records the promotions a completed order was priced with
// and advances usage counters. A 409 means a global cap was hit since the
// quote; the client must reprice.
func (h *Handler) applyPromotions(w http.ResponseWriter, r *http.Request) {
	var dto applyDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed apply payload")
		return
	}
	if err := h.validate.Struct(&dto); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	applied := make([]promotion.SelectedPromotion, len(dto.Applied))
	for i, a := range dto.Applied {
		applied[i] = promotion.SelectedPromotion{
			PromotionID:   a.PromotionID,
			DiscountMinor: a.DiscountMinor,
		}
	}

	err := h.checkout.Apply(r.Context(), checkout.ApplyRequest{
		OrderID:   chi.URLParam(r, "orderID"),
		UserID:    dto.UserID,
		Applied:   applied,
		BatchCode: dto.BatchCode,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
