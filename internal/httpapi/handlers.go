package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"settlement-engine/internal/models"
	"settlement-engine/internal/provider"
	"settlement-engine/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type createDepositRequest struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

type createWithdrawalRequest struct {
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	WalletAddress string      `json:"wallet_address"`
}

type approveRequest struct {
	TxReference string `json:"tx_reference"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// ProviderWebhook answers 401 with no body when the signature does not
// verify, 500 when the event could not be applied so the provider
// redelivers, and 200 for everything else including unknown charges
func (h *Handler) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, store.KindValidation, "unable to read body")
		return
	}

	err = h.webhooks.HandleProviderEvent(r.Context(), body, r.Header.Get(provider.SignatureHeader))
	switch {
	case err == nil, errors.Is(err, store.ErrNotFound):
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, store.ErrInvalidSignature):
		w.WriteHeader(http.StatusUnauthorized)
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, store.KindValidation, store.PublicMessage(err))
	default:
		zap.L().Error("Webhook processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, store.KindInternal, "internal error")
	}
}

func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req createDepositRequest
	if !decode(w, r, &req) {
		return
	}
	env := h.api.CreateDeposit(r.Context(), chi.URLParam(r, "userId"), req.Amount.String(), req.Currency)
	writeEnvelope(w, http.StatusCreated, env)
}

func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	env := h.api.ListDeposits(r.Context(), chi.URLParam(r, "userId"), limit, offset)
	writeEnvelope(w, http.StatusOK, env)
}

func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req createWithdrawalRequest
	if !decode(w, r, &req) {
		return
	}
	env := h.api.CreateWithdrawal(r.Context(), chi.URLParam(r, "userId"), req.Amount.String(), req.Currency, req.WalletAddress)
	writeEnvelope(w, http.StatusCreated, env)
}

// ListWithdrawals serves both the user route and the admin queue; the
// admin route has no userId and may filter on status alone
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	env := h.api.ListWithdrawals(r.Context(), chi.URLParam(r, "userId"), r.URL.Query().Get("status"), limit, offset)
	writeEnvelope(w, http.StatusOK, env)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	env := h.api.GetBalance(r.Context(), chi.URLParam(r, "userId"))
	writeEnvelope(w, http.StatusOK, env)
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	env := h.api.ApproveWithdrawal(r.Context(), chi.URLParam(r, "id"), r.Header.Get(AdminHeader), req.TxReference)
	writeEnvelope(w, http.StatusOK, env)
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !decode(w, r, &req) {
		return
	}
	env := h.api.RejectWithdrawal(r.Context(), chi.URLParam(r, "id"), r.Header.Get(AdminHeader), req.Reason)
	writeEnvelope(w, http.StatusOK, env)
}

func (h *Handler) TriggerAccrual(w http.ResponseWriter, r *http.Request) {
	env := h.api.TriggerAccrual(r.Context(), chi.URLParam(r, "date"))
	writeEnvelope(w, http.StatusAccepted, env)
}

// Ready reports 200 once the workers are running and the database answers
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.health.IsReady() {
		h.health.ReadinessHandler(w, r)
		return
	}
	env := h.api.HealthCheck(r.Context())
	if !env.Success {
		writeJSON(w, http.StatusServiceUnavailable, env)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind string) int {
	switch kind {
	case store.KindValidation:
		return http.StatusBadRequest
	case store.KindInsufficientFund:
		return http.StatusUnprocessableEntity
	case store.KindInvalidState:
		return http.StatusConflict
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindInvalidSignature:
		return http.StatusUnauthorized
	case store.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, okStatus int, env models.Envelope) {
	status := okStatus
	if !env.Success {
		status = StatusFor(env.ErrorKind)
	}
	writeJSON(w, status, env)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, models.Envelope{Success: false, ErrorKind: kind, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Debug("Failed to write response", zap.Error(err))
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, store.KindValidation, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func paging(r *http.Request) (int, int) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return limit, offset
}
