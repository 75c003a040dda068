package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dmarchuk/contentledger/internal/ledger"
	"github.com/dmarchuk/contentledger/internal/rate"
	"github.com/dmarchuk/contentledger/internal/treasury"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_payments_total",
		Help: "Payment attempts by outcome",
	}, []string{"outcome"})
)

type Handler struct {
	ledger  *ledger.Ledger
	limiter *rate.Limiter
	log     *zap.Logger

	// devCustody, when set, exposes the development-only funding endpoint.
	devCustody *treasury.MemoryTreasury
}

func NewHandler(l *ledger.Ledger, limiter *rate.Limiter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{ledger: l, limiter: limiter, log: log}
}

// EnableDevFunding mounts POST /api/v1/treasury/fund against the in-memory
// custody so local runs and the benchmark can fund buyers. Never enable it
// outside development.
func (h *Handler) EnableDevFunding(custody *treasury.MemoryTreasury) {
	h.devCustody = custody
}

// NewRouter mounts all routes, including health and metrics.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/contents", h.RegisterContentHandler).Methods("POST")
	apiV1.HandleFunc("/contents/{id}", h.GetContentHandler).Methods("GET")
	apiV1.HandleFunc("/contents/{id}/access/{user}", h.CheckAccessHandler).Methods("GET")
	apiV1.HandleFunc("/payments", h.CreatePaymentHandler).Methods("POST")
	apiV1.HandleFunc("/balances/{id}", h.GetBalanceHandler).Methods("GET")
	apiV1.HandleFunc("/withdrawals", h.CreateWithdrawalHandler).Methods("POST")
	apiV1.HandleFunc("/fee", h.UpdateFeeHandler).Methods("PUT")
	apiV1.HandleFunc("/fee", h.GetFeeHandler).Methods("GET")
	if h.devCustody != nil {
		apiV1.HandleFunc("/treasury/fund", h.DevFundHandler).Methods("POST")
	}
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
