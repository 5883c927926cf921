package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/mozlend/microcredit/internal/middleware"
	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/notify"
	"github.com/mozlend/microcredit/internal/repository"
	"github.com/mozlend/microcredit/internal/service"
)

// Handler is the thin HTTP layer over the lending services. Request
// shape validation beyond basic decoding lives in the services.
type Handler struct {
	auth     *service.AuthService
	credits  *service.CreditService
	payments *service.PaymentService
	notifier *notify.Notifier
}

func NewHandler(auth *service.AuthService, credits *service.CreditService, payments *service.PaymentService, notifier *notify.Notifier) *Handler {
	return &Handler{auth: auth, credits: credits, payments: payments, notifier: notifier}
}

// Register handles staff registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstitutionID int64  `json:"institution_id"`
		Name          string `json:"name"`
		Email         string `json:"email"`
		Password      string `json:"password"`
		Role          string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = "admin"
	}
	user, err := h.auth.Register(r.Context(), req.InstitutionID, req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// Login handles staff authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Simulate quotes a prospective credit
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount       decimal.Decimal `json:"amount"`
		Term         int             `json:"term"`
		InterestRate decimal.Decimal `json:"interest_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sim, err := h.credits.Simulate(r.Context(), req.Amount, req.Term, req.InterestRate)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sim)
}

// RequestCredit files a credit application
func (h *Handler) RequestCredit(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	var req struct {
		ClientID int64           `json:"client_id"`
		Amount   decimal.Decimal `json:"amount"`
		Term     int             `json:"term"`
		Purpose  string          `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	clientID := req.ClientID
	if actor.IsClient() {
		clientID = actor.UserID
	}
	credit, err := h.credits.Request(r.Context(), service.RequestInput{
		InstitutionID: actor.InstitutionID,
		ClientID:      clientID,
		Amount:        req.Amount,
		Term:          req.Term,
		Purpose:       req.Purpose,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, credit)
}

// ListCredits lists the institution's credits
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	clientID, _ := strconv.ParseInt(r.URL.Query().Get("client_id"), 10, 64)
	if actor.IsClient() {
		clientID = actor.UserID
	}
	credits, err := h.credits.List(r.Context(), actor.InstitutionID, clientID,
		models.CreditStatus(r.URL.Query().Get("status")), pageFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, credits)
}

// GetCredit returns one credit with tenant scoping
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	credit, err := h.credits.Get(r.Context(), actor.InstitutionID, pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if actor.IsClient() && credit.ClientID != actor.UserID {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}
	respondJSON(w, http.StatusOK, credit)
}

// GetInstallments returns a credit's schedule
func (h *Handler) GetInstallments(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	installments, err := h.credits.Installments(r.Context(), actor.InstitutionID, pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, installments)
}

// ApproveCredit approves a pending credit
func (h *Handler) ApproveCredit(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	var req struct {
		ApprovedAmount decimal.Decimal `json:"approved_amount"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	credit, err := h.credits.Approve(r.Context(), actor.InstitutionID, pathID(r), req.ApprovedAmount, actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, credit)
}

// RejectCredit rejects a pending credit
func (h *Handler) RejectCredit(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	credit, err := h.credits.Reject(r.Context(), actor.InstitutionID, pathID(r), req.Reason, actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, credit)
}

// DisburseCredit releases approved funds
func (h *Handler) DisburseCredit(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	var req struct {
		Method models.DisbursementMethod `json:"disbursement_method"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	credit, err := h.credits.Disburse(r.Context(), actor.InstitutionID, pathID(r), req.Method)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, credit)
}

// CreatePayment records and settles a payment
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	var req struct {
		CreditID       int64                `json:"credit_id"`
		InstallmentID  int64                `json:"installment_id"`
		Amount         decimal.Decimal      `json:"amount"`
		Method         models.PaymentMethod `json:"payment_method"`
		TransactionRef string               `json:"transaction_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	in := service.ApplyPaymentInput{
		InstitutionID:  actor.InstitutionID,
		CreditID:       req.CreditID,
		InstallmentID:  req.InstallmentID,
		Amount:         req.Amount,
		Method:         req.Method,
		TransactionRef: req.TransactionRef,
	}
	if actor.IsClient() {
		in.ActorClientID = actor.UserID
	}
	payment, err := h.payments.ApplyPayment(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, payment)
}

// GetPayment returns one payment with tenant scoping
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	payment, err := h.payments.Get(r.Context(), actor.InstitutionID, pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if actor.IsClient() && payment.ClientID != actor.UserID {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}
	respondJSON(w, http.StatusOK, payment)
}

// PaymentWebhook handles the gateway settlement callback
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionRef string `json:"transaction_ref"`
		Status         string `json:"status"`
		FailureReason  string `json:"failure_reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	payment, err := h.payments.ReconcilePayment(r.Context(), req.TransactionRef,
		service.ReconcileOutcome(req.Status), req.FailureReason)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, payment)
}

// ListNotifications returns a client's notification history
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	clientID, _ := strconv.ParseInt(r.URL.Query().Get("client_id"), 10, 64)
	if actor.IsClient() {
		clientID = actor.UserID
	}
	if clientID == 0 {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}
	notifications, err := h.notifier.ListForClient(r.Context(), clientID, pageFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, notifications)
}

// MarkNotificationRead flags a notification as read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifier.MarkRead(r.Context(), pathID(r)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func pageFromQuery(r *http.Request) repository.Page {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	return repository.Page{Number: page, Size: limit}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrTenantMismatch), errors.Is(err, service.ErrUnverified):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, service.ErrDuplicateTransaction):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrActiveLoanExists):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
