package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	domain "github.com/homemarket/negotiation-engine/internal/domain/negotiation"
)

type submitOfferRequest struct {
	PropertyID  string          `json:"property_id"`
	OfferAmount json.RawMessage `json:"offer_amount"`
	Metadata    domain.Metadata `json:"metadata"`
	// NegotiationID turns the request into a counter-offer on an open
	// negotiation.
	NegotiationID *uuid.UUID `json:"negotiation_id,omitempty"`
}

type counterOfferRequest struct {
	OfferAmount json.RawMessage `json:"offer_amount"`
}

type applyActionRequest struct {
	Action      domain.Action   `json:"action"`
	OfferAmount json.RawMessage `json:"offer_amount,omitempty"`
}

type negotiationListResponse struct {
	Items  []*domain.Negotiation `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func (s *Server) submitOffer(w http.ResponseWriter, r *http.Request) {
	var req submitOfferRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	amount, err := domain.ParseAmountJSON(req.OfferAmount)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	actor := actorID(r.Context())

	if req.NegotiationID != nil {
		n, err := s.negotiationSvc.CounterOffer(r.Context(), *req.NegotiationID, actor, amount)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, n)
		return
	}

	propertyID := strings.TrimSpace(req.PropertyID)
	if propertyID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "property_id is required")
		return
	}
	n, err := s.negotiationSvc.SubmitOffer(r.Context(), propertyID, actor, amount, req.Metadata)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

func (s *Server) listNegotiations(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, defaultListLimit, maxListLimit)
	actor := actorID(r.Context())
	var (
		items []*domain.Negotiation
		err   error
	)
	switch role := domain.Role(r.URL.Query().Get("role")); role {
	case domain.RoleBuyer, "":
		items, err = s.negotiationSvc.ListForBuyer(r.Context(), actor, limit, offset)
	case domain.RoleSeller:
		items, err = s.negotiationSvc.ListForSeller(r.Context(), actor, limit, offset)
	default:
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "role must be buyer or seller")
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, negotiationListResponse{Items: items, Limit: limit, Offset: offset})
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	n, err := s.negotiationSvc.Get(r.Context(), id, actorID(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) applyAction(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	var req applyActionRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	var amount int64
	if req.Action == domain.ActionCounter {
		if amount, err = domain.ParseAmountJSON(req.OfferAmount); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}
	n, err := s.negotiationSvc.Apply(r.Context(), id, actorID(r.Context()), req.Action, amount)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) counterOffer(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	var req counterOfferRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	amount, err := domain.ParseAmountJSON(req.OfferAmount)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	n, err := s.negotiationSvc.CounterOffer(r.Context(), id, actorID(r.Context()), amount)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	s.respondToOffer(w, r, domain.ActionAccept)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	s.respondToOffer(w, r, domain.ActionReject)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	s.respondToOffer(w, r, domain.ActionCancel)
}

// respondToOffer handles the body-less actions.
func (s *Server) respondToOffer(w http.ResponseWriter, r *http.Request, action domain.Action) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return
	}
	n, err := s.negotiationSvc.Apply(r.Context(), id, actorID(r.Context()), action, 0)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}
