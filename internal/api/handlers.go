/**
 * @description
 * HTTP handlers for the ledger-service. Handlers decode the request, call the
 * ledger service and map its errors onto status codes.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// Handler holds the ledger service that handlers interact with.
type Handler struct {
	service *app.Service
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type createTransferRequest struct {
	CounterpartyAddress string `json:"counterparty_address"`
	ExternalTransferRef string `json:"external_transfer_ref"`
	ExternalUserRef     string `json:"external_user_ref"`
	Amount              string `json:"amount"`
}

type advanceStateRequest struct {
	State string `json:"state"`
}

type queueResponse struct {
	Queued []domain.Transfer `json:"queued"`
	Next   *domain.Transfer  `json:"next"`
}

func (h *Handler) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	h.createTransfer(w, r, domain.KindDeposit)
}

func (h *Handler) handleCreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.createTransfer(w, r, domain.KindWithdrawal)
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	var req createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.service.CreateTransfer(r.Context(), app.NewTransfer{
		Kind:                kind,
		CounterpartyAddress: req.CounterpartyAddress,
		ExternalTransferRef: req.ExternalTransferRef,
		ExternalUserRef:     req.ExternalUserRef,
		Amount:              amount,
	})
	if err != nil {
		h.respondWithServiceError(w, "create transfer", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTransfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithServiceError(w, "get transfer", err)
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

func (h *Handler) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	queued, next, err := h.service.QueuedTransfers(r.Context(), kind)
	if err != nil {
		h.respondWithServiceError(w, "list queue", err)
		return
	}
	if queued == nil {
		queued = []domain.Transfer{}
	}
	respondWithJSON(w, http.StatusOK, queueResponse{Queued: queued, Next: next})
}

func (h *Handler) handleAdvanceState(w http.ResponseWriter, r *http.Request) {
	var req advanceStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	current, err := h.service.GetTransfer(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, "advance state", err)
		return
	}
	target, err := domain.ParseState(current.Kind, req.State)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.service.AdvanceState(r.Context(), id, target)
	if err != nil {
		h.respondWithServiceError(w, "advance state", err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
		respondWithError(w, status, "Internal server error")
		return
	}
	respondWithError(w, status, err.Error())
}

// statusForError maps service errors onto HTTP statuses. Codec errors only
// arise from stored rows, so they are server faults.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateID),
		errors.Is(err, store.ErrDuplicateExternalRef),
		errors.Is(err, store.ErrInFlightConflict),
		errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, app.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
