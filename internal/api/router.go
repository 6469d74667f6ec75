package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/halcyonops/sandbox-control-plane/internal/auth"
	"github.com/halcyonops/sandbox-control-plane/internal/config"
	"github.com/halcyonops/sandbox-control-plane/internal/directory"
	"github.com/halcyonops/sandbox-control-plane/internal/identity"
	"github.com/halcyonops/sandbox-control-plane/internal/metrics"
	"github.com/halcyonops/sandbox-control-plane/internal/model"
	"github.com/halcyonops/sandbox-control-plane/internal/policy"
	"github.com/halcyonops/sandbox-control-plane/internal/sandbox"
	"github.com/halcyonops/sandbox-control-plane/internal/store"
)

// Orchestrator is the lifecycle surface the API exposes. *sandbox.Service
// satisfies it.
type Orchestrator interface {
	RequestLease(ctx context.Context, in sandbox.RequestLeaseInput) (*model.Lease, error)
	ApproveLease(ctx context.Context, leaseID, approver string) (*model.Lease, error)
	DenyLease(ctx context.Context, leaseID, denier string) (*model.Lease, error)
	FreezeLease(ctx context.Context, leaseID, reason string) (*model.Lease, error)
	TerminateLease(ctx context.Context, leaseID string, reason model.TerminationReason) (*model.Lease, error)
	EjectAccount(ctx context.Context, accountID string) error
	RegisterAccount(ctx context.Context, accountID string) (*model.SandboxAccount, error)
	RetryCleanup(ctx context.Context, accountID string) (*model.SandboxAccount, error)
	QuarantineAccount(ctx context.Context, accountID, reason string) (*model.SandboxAccount, error)
}

// Store is the read-side surface plus the admin edits that bypass the
// orchestrator. *store.Store satisfies it.
type Store interface {
	GetLease(ctx context.Context, uuid string) (*model.Lease, error)
	ListLeasesByOwner(ctx context.Context, owner, pageToken string, pageSize int) ([]model.Lease, string, error)
	GetAccount(ctx context.Context, id string) (*model.SandboxAccount, error)
	ListAccountsByStatus(ctx context.Context, status model.AccountStatus, pageToken string, pageSize int) ([]model.SandboxAccount, string, error)
	GetGlobalConfig(ctx context.Context) (*model.GlobalConfig, error)
	PutGlobalConfig(ctx context.Context, gc model.GlobalConfig) (*model.GlobalConfig, error)
	CreateTemplate(ctx context.Context, t model.LeaseTemplate) (*model.LeaseTemplate, error)
	UpdateTemplate(ctx context.Context, t model.LeaseTemplate) (*model.LeaseTemplate, error)
	GetTemplate(ctx context.Context, id string) (*model.LeaseTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error
	ListTemplates(ctx context.Context, pageToken string, pageSize int) ([]model.LeaseTemplate, string, error)
}

type Server struct {
	cfg          config.Config
	store        Store
	orchestrator Orchestrator
}

func NewRouter(cfg config.Config, st Store, orch Orchestrator) http.Handler {
	s := &Server{cfg: cfg, store: st, orchestrator: orch}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// OU moves and Identity Center assignments can take tens of seconds.
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", metrics.Default().Handler().ServeHTTP)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.With(auth.Middleware(cfg.JWTSecret)).Group(func(authed chi.Router) {
			authed.Post("/leases", s.handleLeaseRequest)
			authed.Get("/leases", s.handleLeaseList)
			authed.Get("/leases/{id}", s.handleLeaseGet)
			authed.Post("/leases/{id}/terminate", s.handleLeaseTerminate)
			authed.Get("/templates", s.handleTemplateList)
			authed.Get("/templates/{id}", s.handleTemplateGet)

			authed.Group(func(admin chi.Router) {
				admin.Use(auth.RequireAdmin)
				admin.Post("/leases/{id}/approve", s.handleLeaseApprove)
				admin.Post("/leases/{id}/deny", s.handleLeaseDeny)
				admin.Post("/leases/{id}/freeze", s.handleLeaseFreeze)
				admin.Get("/accounts", s.handleAccountList)
				admin.Get("/accounts/{id}", s.handleAccountGet)
				admin.Post("/accounts/{id}/eject", s.handleAccountEject)
				admin.Post("/accounts/{id}/register", s.handleAccountRegister)
				admin.Post("/accounts/{id}/retry-cleanup", s.handleAccountRetryCleanup)
				admin.Post("/accounts/{id}/quarantine", s.handleAccountQuarantine)
				admin.Get("/config", s.handleConfigGet)
				admin.Put("/config", s.handleConfigPut)
				admin.Post("/templates", s.handleTemplateCreate)
				admin.Put("/templates/{id}", s.handleTemplateUpdate)
				admin.Delete("/templates/{id}", s.handleTemplateDelete)
			})
		})
	})

	return r
}

type apiError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	var payload apiError
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOpError maps orchestrator and store failures onto the API error
// contract. A rolled-back transaction is retryable; a compensation failure
// is not and demands operator attention.
func writeOpError(w http.ResponseWriter, err error) {
	var verr *policy.ValidationError
	var terr *sandbox.TransactionError
	switch {
	case errors.As(err, &verr):
		writeAPIError(w, http.StatusBadRequest, "validation_failed", verr.Error())
	case errors.Is(err, policy.ErrLeaseQuotaExceeded):
		writeAPIError(w, http.StatusConflict, "quota_exceeded", err.Error())
	case errors.Is(err, sandbox.ErrInvalidState):
		writeAPIError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, sandbox.ErrNoAvailableAccount):
		writeAPIError(w, http.StatusConflict, "no_available_account", err.Error())
	case errors.Is(err, store.ErrConcurrentModification):
		writeAPIError(w, http.StatusConflict, "conflict", "concurrent modification, re-read and retry")
	case errors.Is(err, store.ErrDuplicate):
		writeAPIError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, directory.ErrAccountNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		writeAPIError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &terr):
		if terr.Retryable() {
			writeAPIError(w, http.StatusBadGateway, "transaction_failed", "operation rolled back, safe to retry")
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "manual_intervention", "operation partially applied, operator attention required")
	default:
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "unexpected failure")
	}
}
