package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mcdev12/fishmarket/go/internal/auction"
	"github.com/mcdev12/fishmarket/go/internal/auth"
	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/rs/zerolog/log"
)

// AuctionStore is the engine surface behind the HTTP endpoints.
type AuctionStore interface {
	GetState(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	Bids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
	Activate(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	CloseAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	Cancel(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
}

// StateHandler serves authoritative auction state and admin transitions.
type StateHandler struct {
	store AuctionStore
	authn Authenticator
}

// NewStateHandler creates a new state handler
func NewStateHandler(store AuctionStore, authn Authenticator) *StateHandler {
	return &StateHandler{store: store, authn: authn}
}

type identityKey struct{}

// IdentityFrom returns the identity RequireAdmin stored on the request.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(auth.Identity)
	return identity, ok
}

// RequireAdmin verifies the bearer token and requires the admin role.
func (h *StateHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.authn.Authenticate(r.Context(), tokenFromRequest(r))
		if err != nil {
			status := authStatus(err)
			writeError(w, status, http.StatusText(status), http.StatusText(status))
			return
		}
		if !identity.IsAdmin() {
			writeError(w, http.StatusForbidden, "Forbidden", "admin role required")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HandleGetState handles GET /api/auctions/{auctionID}/state
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := auctionIDParam(w, r)
	if !ok {
		return
	}
	state, err := h.store.GetState(r.Context(), auctionID)
	if err != nil {
		h.fail(w, auctionID, "get auction state", err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// HandleGetBids handles GET /api/auctions/{auctionID}/bids
func (h *StateHandler) HandleGetBids(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := auctionIDParam(w, r)
	if !ok {
		return
	}
	bids, err := h.store.Bids(r.Context(), auctionID)
	if err != nil {
		h.fail(w, auctionID, "list bids", err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

// HandleActivate handles POST /api/auctions/{auctionID}/activate
func (h *StateHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "activate", h.store.Activate)
}

// HandleClose handles POST /api/auctions/{auctionID}/close
func (h *StateHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "close", h.store.CloseAuction)
}

// HandleCancel handles POST /api/auctions/{auctionID}/cancel
func (h *StateHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", h.store.Cancel)
}

func (h *StateHandler) transition(w http.ResponseWriter, r *http.Request, action string,
	apply func(context.Context, uuid.UUID) (*models.Auction, error)) {
	auctionID, ok := auctionIDParam(w, r)
	if !ok {
		return
	}
	state, err := apply(r.Context(), auctionID)
	if err != nil {
		h.fail(w, auctionID, action+" auction", err)
		return
	}

	admin, _ := IdentityFrom(r.Context())
	log.Info().
		Str("auction_id", auctionID.String()).
		Str("user_id", admin.UserID.String()).
		Str("action", action).
		Str("status", string(state.Status)).
		Msg("admin transition applied")
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// RegisterRoutes mounts the state and admin endpoints on r.
func (h *StateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/auctions/{auctionID}", func(r chi.Router) {
		r.Get("/state", h.HandleGetState)
		r.Get("/bids", h.HandleGetBids)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Post("/activate", h.HandleActivate)
			r.Post("/close", h.HandleClose)
			r.Post("/cancel", h.HandleCancel)
		})
	})
}

func (h *StateHandler) fail(w http.ResponseWriter, auctionID uuid.UUID, op string, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msgf("failed to %s", op)
	}
	writeError(w, status, auction.ErrorCode(err), auction.ErrorMessage(err))
}

// AuctionStateResponse is the authoritative snapshot clients reconcile with.
type AuctionStateResponse struct {
	*models.Auction
	MinimumBid string `json:"minimum_bid"`
}

func stateResponse(a *models.Auction) AuctionStateResponse {
	return AuctionStateResponse{Auction: a, MinimumBid: a.MinimumBid().String()}
}

func auctionIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid auction ID format")
		return uuid.Nil, false
	}
	return id, true
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, auction.ErrInvalidTransition), errors.Is(err, auction.ErrStartTimeNotReached):
		return http.StatusConflict
	case errors.Is(err, auction.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorPayload{Code: code, Message: message})
}
