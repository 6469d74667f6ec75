package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/halcyonops/sandbox-control-plane/internal/auth"
	"github.com/halcyonops/sandbox-control-plane/internal/model"
	"github.com/halcyonops/sandbox-control-plane/internal/policy"
	"github.com/halcyonops/sandbox-control-plane/internal/sandbox"
)

type leaseRequestBody struct {
	TemplateID string `json:"template_id"`
	Comments   string `json:"comments"`
}

type reasonBody struct {
	Reason string `json:"reason"`
}

type configBody struct {
	Version            int      `json:"version"`
	MaxBudget          *float64 `json:"max_budget"`
	RequireMaxBudget   bool     `json:"require_max_budget"`
	MaxDurationHours   *float64 `json:"max_duration_hours"`
	RequireMaxDuration bool     `json:"require_max_duration"`
	MaxLeasesPerUser   int      `json:"max_leases_per_user"`
	TTLDays            int      `json:"ttl_days"`
}

type templateBody struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Description          string    `json:"description"`
	MaxSpend             *float64  `json:"max_spend"`
	BudgetThresholds     []float64 `json:"budget_thresholds"`
	LeaseDurationInHours *float64  `json:"lease_duration_in_hours"`
	DurationThresholds   []float64 `json:"duration_thresholds"`
	RequiresApproval     bool      `json:"requires_approval"`
}

func (s *Server) handleLeaseRequest(w http.ResponseWriter, r *http.Request) {
	email, ok := auth.EmailFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}
	var req leaseRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TemplateID == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "template_id is required")
		return
	}
	lease, err := s.orchestrator.RequestLease(r.Context(), sandbox.RequestLeaseInput{
		OwnerEmail: email,
		TemplateID: req.TemplateID,
		Comments:   req.Comments,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"lease": toLeaseResponse(lease)})
}

func (s *Server) handleLeaseList(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.EmailFromContext(r.Context())
	role, _ := auth.RoleFromContext(r.Context())

	owner := email
	if requested := r.URL.Query().Get("owner"); requested != "" && role == auth.RoleAdmin {
		owner = requested
	}
	leases, next, err := s.store.ListLeasesByOwner(r.Context(), owner, pageToken(r), pageSize(r))
	if err != nil {
		writeOpError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(leases))
	for i := range leases {
		out = append(out, toLeaseResponse(&leases[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"leases": out, "next_page_token": next})
}

func (s *Server) handleLeaseGet(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.EmailFromContext(r.Context())
	role, _ := auth.RoleFromContext(r.Context())

	lease, err := s.store.GetLease(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	// Non-admins see only their own leases; a foreign lease reads as absent.
	if role != auth.RoleAdmin && lease.Owner != email {
		writeAPIError(w, http.StatusNotFound, "not_found", "lease not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lease": toLeaseResponse(lease)})
}

func (s *Server) handleLeaseTerminate(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.EmailFromContext(r.Context())
	role, _ := auth.RoleFromContext(r.Context())
	id := chi.URLParam(r, "id")

	curr, err := s.store.GetLease(r.Context(), id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if role != auth.RoleAdmin && curr.Owner != email {
		writeAPIError(w, http.StatusNotFound, "not_found", "lease not found")
		return
	}
	lease, err := s.orchestrator.TerminateLease(r.Context(), id, model.TerminationManual)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lease": toLeaseResponse(lease)})
}

func (s *Server) handleLeaseApprove(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.EmailFromContext(r.Context())
	lease, err := s.orchestrator.ApproveLease(r.Context(), chi.URLParam(r, "id"), email)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lease": toLeaseResponse(lease)})
}

func (s *Server) handleLeaseDeny(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.EmailFromContext(r.Context())
	lease, err := s.orchestrator.DenyLease(r.Context(), chi.URLParam(r, "id"), email)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lease": toLeaseResponse(lease)})
}

func (s *Server) handleLeaseFreeze(w http.ResponseWriter, r *http.Request) {
	var req reasonBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "reason is required")
		return
	}
	lease, err := s.orchestrator.FreezeLease(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lease": toLeaseResponse(lease)})
}

var accountStatuses = map[string]model.AccountStatus{
	"Available":  model.AccountAvailable,
	"Active":     model.AccountActive,
	"Frozen":     model.AccountFrozen,
	"CleanUp":    model.AccountCleanUp,
	"Quarantine": model.AccountQuarantine,
}

func (s *Server) handleAccountList(w http.ResponseWriter, r *http.Request) {
	status, ok := accountStatuses[r.URL.Query().Get("status")]
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "status must be one of Available|Active|Frozen|CleanUp|Quarantine")
		return
	}
	accounts, next, err := s.store.ListAccountsByStatus(r.Context(), status, pageToken(r), pageSize(r))
	if err != nil {
		writeOpError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(accounts))
	for i := range accounts {
		out = append(out, toAccountResponse(&accounts[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out, "next_page_token": next})
}

func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request) {
	acct, err := s.store.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": toAccountResponse(acct)})
}

func (s *Server) handleAccountEject(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.EjectAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ejected": true})
}

func (s *Server) handleAccountRegister(w http.ResponseWriter, r *http.Request) {
	acct, err := s.orchestrator.RegisterAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"account": toAccountResponse(acct)})
}

func (s *Server) handleAccountRetryCleanup(w http.ResponseWriter, r *http.Request) {
	acct, err := s.orchestrator.RetryCleanup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": toAccountResponse(acct)})
}

func (s *Server) handleAccountQuarantine(w http.ResponseWriter, r *http.Request) {
	var req reasonBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "reason is required")
		return
	}
	acct, err := s.orchestrator.QuarantineAccount(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": toAccountResponse(acct)})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	gc, err := s.store.GetGlobalConfig(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": toConfigResponse(gc)})
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	var req configBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if req.Version <= 0 {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "version must be the currently active config version")
		return
	}
	gc, err := s.store.PutGlobalConfig(r.Context(), model.GlobalConfig{
		Version:            req.Version,
		MaxBudget:          req.MaxBudget,
		RequireMaxBudget:   req.RequireMaxBudget,
		MaxDurationHours:   req.MaxDurationHours,
		RequireMaxDuration: req.RequireMaxDuration,
		MaxLeasesPerUser:   req.MaxLeasesPerUser,
		TTLDays:            req.TTLDays,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": toConfigResponse(gc)})
}

func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	templates, next, err := s.store.ListTemplates(r.Context(), pageToken(r), pageSize(r))
	if err != nil {
		writeOpError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(templates))
	for i := range templates {
		out = append(out, toTemplateResponse(&templates[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out, "next_page_token": next})
}

func (s *Server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.store.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"template": toTemplateResponse(tpl)})
}

func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.EmailFromContext(r.Context())
	var req templateBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	tpl := model.LeaseTemplate{
		ID:                   req.ID,
		Name:                 req.Name,
		Description:          req.Description,
		MaxSpend:             req.MaxSpend,
		BudgetThresholds:     req.BudgetThresholds,
		LeaseDurationInHours: req.LeaseDurationInHours,
		DurationThresholds:   req.DurationThresholds,
		RequiresApproval:     req.RequiresApproval,
		CreatedBy:            email,
	}

	gc, err := s.store.GetGlobalConfig(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	if err := policy.ValidateTemplate(tpl, *gc); err != nil {
		writeOpError(w, err)
		return
	}

	created, err := s.store.CreateTemplate(r.Context(), tpl)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"template": toTemplateResponse(created)})
}

// handleTemplateUpdate edits a template in place. Leases already requested
// against it keep the bounds they were created with.
func (s *Server) handleTemplateUpdate(w http.ResponseWriter, r *http.Request) {
	var req templateBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	tpl := model.LeaseTemplate{
		ID:                   chi.URLParam(r, "id"),
		Name:                 req.Name,
		Description:          req.Description,
		MaxSpend:             req.MaxSpend,
		BudgetThresholds:     req.BudgetThresholds,
		LeaseDurationInHours: req.LeaseDurationInHours,
		DurationThresholds:   req.DurationThresholds,
		RequiresApproval:     req.RequiresApproval,
	}

	gc, err := s.store.GetGlobalConfig(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	if err := policy.ValidateTemplate(tpl, *gc); err != nil {
		writeOpError(w, err)
		return
	}

	updated, err := s.store.UpdateTemplate(r.Context(), tpl)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"template": toTemplateResponse(updated)})
}

func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func pageToken(r *http.Request) string {
	return r.URL.Query().Get("page_token")
}

func pageSize(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil {
		return 0
	}
	return n
}

func toLeaseResponse(l *model.Lease) map[string]any {
	resp := map[string]any{
		"uuid":               l.UUID,
		"owner":              l.Owner,
		"template_id":        l.TemplateID,
		"status":             string(l.Status),
		"comments":           l.Comments,
		"approved_by":        l.ApprovedBy,
		"total_cost_accrued": l.TotalCostAccrued,
		"created_at":         l.CreatedAt.UTC().Format(time.RFC3339),
		"last_modified":      l.LastModified.UTC().Format(time.RFC3339),
		"version":            l.Version,
	}
	if l.AWSAccountID != "" {
		resp["aws_account_id"] = l.AWSAccountID
	}
	if l.StartDate != nil {
		resp["start_date"] = l.StartDate.UTC().Format(time.RFC3339)
	}
	if l.ExpirationDate != nil {
		resp["expiration_date"] = l.ExpirationDate.UTC().Format(time.RFC3339)
	}
	if l.MaxSpend != nil {
		resp["max_spend"] = *l.MaxSpend
	}
	if len(l.BudgetThresholds) > 0 {
		resp["budget_thresholds"] = l.BudgetThresholds
	}
	if len(l.DurationThresholds) > 0 {
		resp["duration_thresholds"] = l.DurationThresholds
	}
	if l.EndDate != nil {
		resp["end_date"] = l.EndDate.UTC().Format(time.RFC3339)
	}
	if l.ExpiresAt != nil {
		resp["expires_at"] = l.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func toAccountResponse(a *model.SandboxAccount) map[string]any {
	resp := map[string]any{
		"id":            a.ID,
		"status":        string(a.Status),
		"name":          a.Name,
		"email":         a.Email,
		"last_modified": a.LastModified.UTC().Format(time.RFC3339),
		"version":       a.Version,
	}
	if a.Cleanup != nil {
		resp["cleanup"] = map[string]any{
			"execution_id": a.Cleanup.ExecutionID,
			"started_at":   a.Cleanup.StartedAt.UTC().Format(time.RFC3339),
		}
	}
	return resp
}

func toTemplateResponse(t *model.LeaseTemplate) map[string]any {
	resp := map[string]any{
		"id":                t.ID,
		"name":              t.Name,
		"description":       t.Description,
		"requires_approval": t.RequiresApproval,
		"created_by":        t.CreatedBy,
		"created_at":        t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.MaxSpend != nil {
		resp["max_spend"] = *t.MaxSpend
	}
	if len(t.BudgetThresholds) > 0 {
		resp["budget_thresholds"] = t.BudgetThresholds
	}
	if t.LeaseDurationInHours != nil {
		resp["lease_duration_in_hours"] = *t.LeaseDurationInHours
	}
	if len(t.DurationThresholds) > 0 {
		resp["duration_thresholds"] = t.DurationThresholds
	}
	return resp
}

func toConfigResponse(gc *model.GlobalConfig) map[string]any {
	resp := map[string]any{
		"version":              gc.Version,
		"require_max_budget":   gc.RequireMaxBudget,
		"require_max_duration": gc.RequireMaxDuration,
		"max_leases_per_user":  gc.MaxLeasesPerUser,
		"ttl_days":             gc.TTLDays,
	}
	if gc.MaxBudget != nil {
		resp["max_budget"] = *gc.MaxBudget
	}
	if gc.MaxDurationHours != nil {
		resp["max_duration_hours"] = *gc.MaxDurationHours
	}
	return resp
}
