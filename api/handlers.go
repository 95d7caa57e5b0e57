/*
handlers.go - HTTP API handlers for the enrollment engine

PURPOSE:
  Exposes selection, checkout and payment reconciliation via REST API.
  Handles HTTP request/response, JSON serialization, authorization of the
  caller against the addressed student, and delegates to package enrollment.

ENDPOINTS:
  Selection:
    POST   /classes/{classId}/select          Hold a class     {studentEmail}
    DELETE /classes/{classId}/select          Release a hold   {studentEmail}
    GET    /students/{email}/selected         Selected class ids
    GET    /students/{email}/enrolled         Enrolled class ids
    GET    /students/{email}/enrolled/{id}    {enrolled: bool}

  Payments:
    POST   /payment-intents                   {price} → {clientSecret}
    POST   /payments                          Reconcile a completed payment
    GET    /payments/history/{email}          Payment records, oldest first

  Admin:
    POST   /admin/sweep                       Re-derive counters from payments
    GET    /scenarios                         List demo scenarios
    POST   /scenarios/load                    Load a demo scenario

  GET /healthz is public. Everything else needs a bearer token.

AUTHORIZATION:
  The Principal placed on the context by the auth middleware must be the
  student named in the path or body. Admin routes need RoleAdmin.

ERROR HANDLING:
  Errors are returned as JSON {error, details} with status from statusFor:
  - 400: Validation errors, invalid price, instructor mismatch
  - 401: Missing or invalid token
  - 403: Caller is not the addressed student / lacks role
  - 404: Student, class or instructor not found
  - 409: Already held / already enrolled
  - 502: Payment gateway failed or timed out
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/enrollment-engine/auth"
	"github.com/warp/enrollment-engine/enrollment"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger     *enrollment.SelectionLedger
	Reconciler *enrollment.Reconciler
	Checkout   *enrollment.Checkout
	Auth       *auth.Authenticator

	// Seeder backs the scenario endpoints. Nil disables scenario loading.
	Seeder Seeder
	// Ping reports store health for /healthz. Nil means always healthy.
	Ping func(context.Context) error

	validate *validator.Validate
}

// NewHandler wires handlers over store. The store also serves as the
// scenario seeder and health probe when it supports them.
func NewHandler(store enrollment.TxStore, reconciler *enrollment.Reconciler, checkout *enrollment.Checkout, authn *auth.Authenticator) *Handler {
	h := &Handler{
		Ledger:     enrollment.NewSelectionLedger(store),
		Reconciler: reconciler,
		Checkout:   checkout,
		Auth:       authn,
		validate:   validator.New(),
	}
	if s, ok := store.(Seeder); ok {
		h.Seeder = s
	}
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		h.Ping = p.Ping
	}
	return h
}

// =============================================================================
// SELECTION HANDLERS
// =============================================================================

// SelectClass holds a class for the student.
// POST /classes/{classId}/select
func (h *Handler) SelectClass(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "Invalid request body", err)
		return
	}
	if err := principal(r).ActsAs(req.StudentEmail); err != nil {
		h.fail(w, "Forbidden", err)
		return
	}

	classID := enrollment.ClassID(chi.URLParam(r, "classId"))
	if err := h.Ledger.Select(r.Context(), req.StudentEmail, classID); err != nil {
		h.fail(w, "Failed to select class", err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// DeselectClass releases a hold. Releasing an absent hold succeeds.
// DELETE /classes/{classId}/select
func (h *Handler) DeselectClass(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "Invalid request body", err)
		return
	}
	if err := principal(r).ActsAs(req.StudentEmail); err != nil {
		h.fail(w, "Forbidden", err)
		return
	}

	classID := enrollment.ClassID(chi.URLParam(r, "classId"))
	if err := h.Ledger.Deselect(r.Context(), req.StudentEmail, classID); err != nil {
		h.fail(w, "Failed to deselect class", err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// ListSelected returns the student's selected class ids.
// GET /students/{email}/selected
func (h *Handler) ListSelected(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if err := principal(r).ActsAs(email); err != nil {
		h.fail(w, "Forbidden", err)
		return
	}

	ids, err := h.Ledger.ListSelected(r.Context(), email)
	if err != nil {
		h.fail(w, "Failed to list selected classes", err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// ListEnrolled returns the student's enrolled class ids.
// GET /students/{email}/enrolled
func (h *Handler) ListEnrolled(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if err := principal(r).ActsAs(email); err != nil {
		h.fail(w, "Forbidden", err)
		return
	}

	ids, err := h.Ledger.ListEnrolled(r.Context(), email)
	if err != nil {
		h.fail(w, "Failed to list enrolled classes", err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// CheckEnrolled is the informational pre-check shown before checkout.
// POST /payments stays authoritative.
// GET /students/{email}/enrolled/{classId}
func (h *Handler) CheckEnrolled(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if err := principal(r).ActsAs(email); err != nil {
		h.fail(w, "Forbidden", err)
		return
	}

	enrolled, err := h.Reconciler.PrecheckEnrollment(r.Context(), email, enrollment.ClassID(chi.URLParam(r, "classId")))
	if err != nil {
		h.fail(w, "Failed to check enrollment", err)
		return
	}
	writeJSON(w, http.StatusOK, EnrolledCheckDTO{Enrolled: enrolled})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CreatePaymentIntent asks the gateway for a client secret.
// POST /payment-intents
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req PaymentIntentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "Invalid request body", err)
		return
	}

	intent, err := h.Checkout.CreateIntent(r.Context(), req.Price)
	if err != nil {
		h.fail(w, "Failed to create payment intent", err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentIntentDTO{
		ClientSecret: intent.ClientSecret,
		Amount:       intent.AmountMinor,
		Currency:     intent.Currency,
	})
}

// ReconcilePayment turns a completed payment into an enrollment.
// Re-posting the same transactionId returns the original result.
// POST /payments
func (h *Handler) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, "Invalid request body", err)
		return
	}
	if err := principal(r).ActsAs(req.StudentEmail); err != nil {
		h.fail(w, "Forbidden", err)
		return
	}

	result, err := h.Reconciler.Reconcile(r.Context(), req.toDomain())
	if err != nil {
		h.fail(w, "Failed to reconcile payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(result))
}

// PaymentHistory returns the student's payments.
// GET /payments/history/{email}
func (h *Handler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if err := principal(r).ActsAs(email); err != nil {
		h.fail(w, "Forbidden", err)
		return
	}

	receipts, err := h.Reconciler.History(r.Context(), email)
	if err != nil {
		h.fail(w, "Failed to get payment history", err)
		return
	}
	dtos := make([]PaymentDTO, len(receipts))
	for i, rc := range receipts {
		dtos[i] = toPaymentDTO(rc.Payment)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs one counter sweep now.
// POST /admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if err := principal(r).HasRole(enrollment.RoleAdmin); err != nil {
		h.fail(w, "Forbidden", err)
		return
	}

	report, err := h.Reconciler.Sweep(r.Context())
	if err != nil {
		h.fail(w, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(report))
}

// Healthz reports liveness and store reachability.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", enrollment.ErrInvalidRequest, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", enrollment.ErrInvalidRequest, err)
	}
	return nil
}

// statusFor maps domain and auth errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case enrollment.IsNotFound(err), errors.Is(err, ErrUnknownScenario):
		return http.StatusNotFound
	case enrollment.IsConflict(err):
		return http.StatusConflict
	case enrollment.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, enrollment.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s: %v", message, err)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
