package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cartkit/promo-engine/internal/domain/promotion"
)

// createPromotion accepts a partial definition, normalizes it into a full
// canonical record, and persists it.
func (h *Handler) createPromotion(w http.ResponseWriter, r *http.Request) {
	var patch promotion.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed promotion payload")
		return
	}

	p, err := promotion.Normalize(patch, nil)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	p.ID = uuid.NewString()

	if err := h.promotions.Create(r.Context(), &p); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.invalidateSnapshot(r.Context())

	created, err := h.promotions.GetByID(r.Context(), p.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.promotions.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"promotions": promos})
}

func (h *Handler) getPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.promotions.GetByID(r.Context(), chi.URLParam(r, "promotionID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// updatePromotion applies a partial patch on top of the stored record. The
// merged result goes through the same normalization as create, so a patch
// can never leave a promotion in a state create would have rejected.
func (h *Handler) updatePromotion(w http.ResponseWriter, r *http.Request) {
	existing, err := h.promotions.GetByID(r.Context(), chi.URLParam(r, "promotionID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var patch promotion.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed promotion payload")
		return
	}

	p, err := promotion.Normalize(patch, existing)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := h.promotions.Update(r.Context(), &p); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.invalidateSnapshot(r.Context())

	updated, err := h.promotions.GetByID(r.Context(), p.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deletePromotion(w http.ResponseWriter, r *http.Request) {
	if err := h.promotions.Delete(r.Context(), chi.URLParam(r, "promotionID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.invalidateSnapshot(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
