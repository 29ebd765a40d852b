package httpapi

import (
	"context"
	"net/http"

	"settlement-engine/internal/api"
	"settlement-engine/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminHeader carries the id of the administrator making an admin call
const AdminHeader = "X-Admin-Id"

const maxBodyBytes = 1 << 20

// WebhookProcessor verifies and applies one provider webhook delivery
type WebhookProcessor interface {
	HandleProviderEvent(ctx context.Context, body []byte, signature string) error
}

type Handler struct {
	api      *api.Service
	webhooks WebhookProcessor
	health   *metrics.HealthChecker
}

func NewHandler(svc *api.Service, webhooks WebhookProcessor, health *metrics.HealthChecker) *Handler {
	return &Handler{api: svc, webhooks: webhooks, health: health}
}

// Router mounts every route of the settlement service
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health.LivenessHandler)
	r.Get("/readyz", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/payments", h.ProviderWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requestMeta)

		r.Route("/users/{userId}", func(r chi.Router) {
			r.Post("/deposits", h.CreateDeposit)
			r.Get("/deposits", h.ListDeposits)
			r.Post("/withdrawals", h.CreateWithdrawal)
			r.Get("/withdrawals", h.ListWithdrawals)
			r.Get("/balance", h.GetBalance)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/withdrawals", h.ListWithdrawals)
			r.Post("/withdrawals/{id}/approve", h.ApproveWithdrawal)
			r.Post("/withdrawals/{id}/reject", h.RejectWithdrawal)
			r.Post("/accruals/{date}", h.TriggerAccrual)
		})
	})

	return r
}

// requireAdmin rejects admin calls that do not name the acting administrator
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(AdminHeader) == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", AdminHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
