// Package handler exposes the HTTP surface: admin promotion CRUD and the
// checkout quote/preview/apply endpoints, each behind scoped API-key auth.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/cartkit/promo-engine/internal/domain/auth"
	"github.com/cartkit/promo-engine/internal/domain/checkout"
	"github.com/cartkit/promo-engine/internal/domain/promotion"
)

// SnapshotInvalidator drops the cached active-promotion snapshot after an
// admin write. A nil invalidator is a no-op, for deployments without the
// cache.
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context)
}

// Handler routes HTTP requests to the promotion repository and checkout
// service.
type Handler struct {
	promotions promotion.Repository
	checkout   *checkout.Service
	apikeys    auth.Repository
	cache      SnapshotInvalidator
	pepper     []byte
	validate   *validator.Validate
}

// NewHandler constructs a Handler with the required domain dependencies.
// cache may be nil.
func NewHandler(
	promotions promotion.Repository,
	checkoutSvc *checkout.Service,
	apikeys auth.Repository,
	cache SnapshotInvalidator,
	pepper []byte,
) *Handler {
	return &Handler{
		promotions: promotions,
		checkout:   checkoutSvc,
		apikeys:    apikeys,
		cache:      cache,
		pepper:     pepper,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes returns the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api/promotions", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.requireScope(auth.ScopePromotionsRead))
			r.Get("/", h.listPromotions)
			r.Get("/{promotionID}", h.getPromotion)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.requireScope(auth.ScopePromotionsWrite))
			r.Post("/", h.createPromotion)
			r.Patch("/{promotionID}", h.updatePromotion)
			r.Delete("/{promotionID}", h.deletePromotion)
		})
	})

	// Checkout carries its own scope, separate from the admin surface.
	r.Group(func(r chi.Router) {
		r.Use(h.requireScope(auth.ScopeCheckout))
		r.Post("/api/checkout/quote", h.quote)
		r.Post("/api/checkout/preview", h.preview)
		r.Post("/api/orders/{orderID}/promotions", h.applyPromotions)
	})

	return r
}

func (h *Handler) invalidateSnapshot(ctx context.Context) {
	if h.cache != nil {
		h.cache.Invalidate(ctx)
	}
}

// errorResponse is the uniform JSON error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

// writeDomainError maps domain errors onto HTTP statuses. Unrecognized
// errors become an opaque 500 with the cause logged server-side.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *promotion.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, promotion.ErrNotFound):
		writeError(w, http.StatusNotFound, "promotion not found")
	case errors.Is(err, promotion.ErrCodeConflict):
		writeError(w, http.StatusConflict, "promotion code already in use")
	case errors.Is(err, promotion.ErrUsageLimitReached):
		writeError(w, http.StatusConflict, "promotion usage limit reached")
	default:
		zctx.From(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}
