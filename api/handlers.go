/*
handlers.go - HTTP request handlers

PURPOSE:
  Implements the REST API endpoints exposing the allocation and
  reconciliation engines to the rest of the platform. Handlers follow
  one flow: decode -> validate -> engine call -> writeJSON/writeError.
  No business logic lives here; handlers translate between the JSON
  contract and the engine APIs.

TENANCY:
  Every route is nested under /api/tenants/{tenantID}. The tenant id
  is passed straight through to the engines, which scope every lookup;
  a cross-tenant id surfaces as 404, never 403.

ERROR MAPPING:
  NotFound        -> 404
  InvalidInput    -> 400 (decode/validation failures included)
  BusinessRule    -> 422
  anything else   -> 500

ENDPOINTS:
  POST   /api/tenants/{tenantID}/allocations
  POST   /api/tenants/{tenantID}/payments/{paymentID}/reverse
  GET    /api/tenants/{tenantID}/invoices/{invoiceID}
  POST   /api/tenants/{tenantID}/reconciliations
  GET    /api/tenants/{tenantID}/reconciliations?account=
  DELETE /api/tenants/{tenantID}/reconciliations
  GET    /api/tenants/{tenantID}/transactions/unmatched?account=&from=&to=
  POST   /api/tenants/{tenantID}/transactions/match
  GET    /api/tenants/{tenantID}/audit
  GET    /api/health

SECURITY NOTE:
  Currently NO authentication or authorization; the platform gateway
  in front of this service owns both. Tenant ids in the URL are
  trusted as already authenticated.

SEE ALSO:
  - dto.go: Request/response types and domain mappers
  - server.go: Route registration
  - allocation/engine.go, reconcile/engine.go: The engines called here
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/crechebooks/ledger-engine/allocation"
	"github.com/crechebooks/ledger-engine/config"
	"github.com/crechebooks/ledger-engine/ledger"
	"github.com/crechebooks/ledger-engine/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the engines and store the API serves.
type Handler struct {
	Store ledger.TxStore
	Alloc *allocation.Engine
	Recon *reconcile.Engine
	Log   *logrus.Logger

	validate *validator.Validate
}

// NewHandler creates a handler with all dependencies.
func NewHandler(store ledger.TxStore, alloc *allocation.Engine, recon *reconcile.Engine, log *logrus.Logger) *Handler {
	return &Handler{
		Store:    store,
		Alloc:    alloc,
		Recon:    recon,
		Log:      log,
		validate: validator.New(),
	}
}

// =============================================================================
// ALLOCATION ENDPOINTS
// =============================================================================

// Allocate handles POST /api/tenants/{tenantID}/allocations.
// The whole batch succeeds or fails as one unit.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	tenantID := ledger.TenantID(chi.URLParam(r, "tenantID"))

	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !h.validateRequest(w, &req) {
		return
	}

	reqs := make([]allocation.Request, len(req.Allocations))
	for i, line := range req.Allocations {
		amount, ok := h.parseMoney(w, fmt.Sprintf("allocations[%d].amount", i), line.Amount)
		if !ok {
			return
		}
		reqs[i] = allocation.Request{
			InvoiceID: ledger.InvoiceID(line.InvoiceID),
			Amount:    amount,
		}
	}

	result, err := h.Alloc.AllocateMany(r.Context(), tenantID, ledger.TransactionID(req.TransactionID), reqs, req.Actor.allocationActor())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	invoices := make([]InvoiceDTO, 0, len(result.UpdatedInvoiceIDs))
	for _, id := range result.UpdatedInvoiceIDs {
		inv, err := h.Store.GetInvoice(r.Context(), tenantID, id)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		invoices = append(invoices, toInvoiceDTO(*inv))
	}

	h.writeJSON(w, http.StatusCreated, AllocationResultDTO{
		Payments:    toPaymentDTOs(result.Payments),
		Invoices:    invoices,
		Unallocated: result.Unallocated.String(),
		SyncStatus:  string(result.SyncStatus),
	})
}

// ReversePayment handles POST /api/tenants/{tenantID}/payments/{paymentID}/reverse.
func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	tenantID := ledger.TenantID(chi.URLParam(r, "tenantID"))
	paymentID := ledger.PaymentID(chi.URLParam(r, "paymentID"))

	var req ReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !h.validateRequest(w, &req) {
		return
	}

	payment, err := h.Alloc.Reverse(r.Context(), tenantID, paymentID, req.Reason, req.Actor.allocationActor())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

// =============================================================================
// INVOICE ENDPOINTS
// =============================================================================

// GetInvoice handles GET /api/tenants/{tenantID}/invoices/{invoiceID}.
// Returns the invoice with its full payment history, reversals included.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	tenantID := ledger.TenantID(chi.URLParam(r, "tenantID"))
	invoiceID := ledger.InvoiceID(chi.URLParam(r, "invoiceID"))

	inv, err := h.Store.GetInvoice(r.Context(), tenantID, invoiceID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	payments, err := h.Store.ListPaymentsByInvoice(r.Context(), tenantID, invoiceID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, InvoiceDetailDTO{
		Invoice:  toInvoiceDTO(*inv),
		Payments: toPaymentDTOs(payments),
	})
}

// =============================================================================
// RECONCILIATION ENDPOINTS
// =============================================================================

// Reconcile handles POST /api/tenants/{tenantID}/reconciliations.
// A DISCREPANCY outcome is still a 201: the run itself succeeded and
// its record was persisted.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	tenantID := ledger.TenantID(chi.URLParam(r, "tenantID"))

	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !h.validateRequest(w, &req) {
		return
	}

	p, ok := h.parsePeriod(w, req.PeriodStart, req.PeriodEnd)
	if !ok {
		return
	}
	opening, ok := h.parseMoney(w, "opening_balance", req.OpeningBalance)
	if !ok {
		return
	}
	stated, ok := h.parseMoney(w, "stated_closing", req.StatedClosing)
	if !ok {
		return
	}

	rec, err := h.Recon.Reconcile(r.Context(), tenantID, reconcile.Input{
		Account:        ledger.AccountID(req.Account),
		Period:         p,
		OpeningBalance: opening,
		StatedClosing:  stated,
	}, req.Actor.reconcileActor())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toReconciliationDTO(*rec))
}

// ListReconciliations handles GET /api/tenants/{tenantID}/reconciliations.
// Requires an account query parameter; returns runs newest first.
func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	tenantID := ledger.TenantID(chi.URLParam(r, "tenantID"))

	account := ledger.AccountID(r.URL.Query().Get("account"))
	if account == "" {
		h.writeError(w, http.StatusBadRequest, "Missing account query parameter", nil)
		return
	}

	recs, err := h.Store.ListReconciliations(r.Context(), tenantID, account)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]ReconciliationDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toReconciliationDTO(rec)
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// Unreconcile handles DELETE /api/tenants/{tenantID}/reconciliations.
// The window is identified by the request body, not the URL: periods
// have no stable id of their own.
func (h *Handler) Unreconcile(w http.ResponseWriter, r *http.Request) {
	tenantID := ledger.TenantID(chi.URLParam(r, "tenantID"))

	var req UnreconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !h.validateRequest(w, &req) {
		return
	}

	p, ok := h.parsePeriod(w, req.PeriodStart, req.PeriodEnd)
	if !ok {
		return
	}

	rec, err := h.Recon.Unreconcile(r.Context(), tenantID, ledger.AccountID(req.Account), p, req.Reason, req.Actor.reconcileActor())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toReconciliationDTO(*rec))
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// GetUnmatched handles GET /api/tenants/{tenantID}/transactions/unmatched.
// Query parameters: account, from, to (dates, both bounds inclusive).
func (h *Handler) GetUnmatched(w http.ResponseWriter, r *http.Request) {
	tenantID := ledger.TenantID(chi.URLParam(r, "tenantID"))

	q := r.URL.Query()
	account := ledger.AccountID(q.Get("account"))
	if account == "" {
		h.writeError(w, http.StatusBadRequest, "Missing account query parameter", nil)
		return
	}
	p, ok := h.parsePeriod(w, q.Get("from"), q.Get("to"))
	if !ok {
		return
	}

	txs, err := h.Recon.GetUnmatched(r.Context(), tenantID, account, p)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// MatchTransactions handles POST /api/tenants/{tenantID}/transactions/match.
func (h *Handler) MatchTransactions(w http.ResponseWriter, r *http.Request) {
	tenantID := ledger.TenantID(chi.URLParam(r, "tenantID"))

	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !h.validateRequest(w, &req) {
		return
	}

	ids := make([]ledger.TransactionID, len(req.TransactionIDs))
	for i, id := range req.TransactionIDs {
		ids[i] = ledger.TransactionID(id)
	}

	txs, err := h.Recon.MatchTransactions(r.Context(), tenantID, reconcile.MatchInput{
		TransactionIDs: ids,
		Reference:      req.Reference,
	}, req.Actor.reconcileActor())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// AUDIT ENDPOINTS
// =============================================================================

// GetAudit handles GET /api/tenants/{tenantID}/audit.
// Query parameters: entity_type, entity_id, actor_id, action (repeatable),
// from, to (RFC 3339), limit. All optional; results are oldest first.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	tenantID := ledger.TenantID(chi.URLParam(r, "tenantID"))

	q := r.URL.Query()
	filter := ledger.AuditFilter{
		TenantID:   tenantID,
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, ledger.AuditAction(a))
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid from timestamp", err)
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid to timestamp", err)
			return
		}
		filter.To = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HEALTH
// =============================================================================

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// validateRequest runs struct validation and writes a 400 on failure.
func (h *Handler) validateRequest(w http.ResponseWriter, req any) bool {
	err := h.validate.Struct(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, len(verrs))
		for i, ve := range verrs {
			fields[i] = fmt.Sprintf("%s: %s", ve.Field(), ve.Tag())
		}
		h.writeError(w, http.StatusBadRequest, "Validation failed", errors.New(strings.Join(fields, ", ")))
		return false
	}
	h.writeError(w, http.StatusBadRequest, "Validation failed", err)
	return false
}

// parseMoney converts a decimal string to cents, writing a 400 on failure.
func (h *Handler) parseMoney(w http.ResponseWriter, field, value string) (ledger.Cents, bool) {
	cents, err := ledger.ParseCents(value)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", field), err)
		return 0, false
	}
	return cents, true
}

// parsePeriod converts a pair of date strings to a normalized period,
// writing a 400 on failure.
func (h *Handler) parsePeriod(w http.ResponseWriter, startStr, endStr string) (ledger.Period, bool) {
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid period start date", err)
		return ledger.Period{}, false
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid period end date", err)
		return ledger.Period{}, false
	}
	p, err := ledger.NewPeriod(start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return ledger.Period{}, false
	}
	return p, true
}

// writeDomainError maps the ledger error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsInvalidInput(err):
		h.writeError(w, http.StatusBadRequest, "Invalid input", err)
	case ledger.IsRuleViolation(err):
		h.writeError(w, http.StatusUnprocessableEntity, "Business rule violation", err)
	default:
		config.LogError(h.Log, "api", "writeDomainError", "unhandled engine error", nil, err)
		h.writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// writeJSON writes a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		config.LogError(h.Log, "api", "writeJSON", "encode response", nil, err)
	}
}

// writeError writes a standard error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	h.writeJSON(w, status, resp)
}
