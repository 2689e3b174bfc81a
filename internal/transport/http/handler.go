package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"ecocash/internal/community"
	"ecocash/internal/market"
	"ecocash/internal/model"
	"ecocash/internal/service"
)

type Handler struct {
	reg service.Registry
}

func NewHandler(reg service.Registry) *Handler {
	return &Handler{reg: reg}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /accounts", h.CreateAccount)
	mux.HandleFunc("GET /accounts", h.ListAccounts)
	mux.HandleFunc("GET /accounts/{id}", h.GetAccount)
	mux.HandleFunc("POST /accounts/{id}/points", h.AddPoints)
	mux.HandleFunc("POST /transfer", h.Transfer)

	mux.HandleFunc("POST /declarations", h.CreateDeclaration)
	mux.HandleFunc("GET /declarations", h.ListDeclarations)
	mux.HandleFunc("GET /declarations/{id}", h.GetDeclaration)
	mux.HandleFunc("POST /declarations/{id}/accept", h.AcceptDeclaration)
	mux.HandleFunc("POST /declarations/{id}/weight", h.ConfirmWeight)
	mux.HandleFunc("POST /declarations/{id}/liquidate", h.Liquidate)
	mux.HandleFunc("GET /collectors/{id}/route", h.CollectionRoute)

	mux.HandleFunc("POST /services", h.CreateService)
	mux.HandleFunc("GET /services", h.ListServices)
	mux.HandleFunc("GET /services/{id}", h.GetService)
	mux.HandleFunc("POST /services/{id}/bind", h.BindProvider)
	mux.HandleFunc("POST /services/{id}/counter", h.CounterOffer)
	mux.HandleFunc("POST /services/{id}/accept-price", h.AcceptPrice)
	mux.HandleFunc("POST /services/{id}/escrow", h.PayEscrow)
	mux.HandleFunc("POST /services/{id}/schedule", h.ScheduleService)
	mux.HandleFunc("POST /services/{id}/release", h.ReleaseEscrow)

	mux.HandleFunc("POST /energy/inject", h.InjectEnergy)
	mux.HandleFunc("POST /energy/assignments", h.AssignConsumer)
	mux.HandleFunc("POST /energy/settle", h.SettleBill)

	mux.HandleFunc("POST /causes", h.CreateCause)
	mux.HandleFunc("GET /causes", h.ListCauses)
	mux.HandleFunc("POST /causes/{id}/vote", h.Vote)

	mux.HandleFunc("POST /reports", h.CreateReport)
	mux.HandleFunc("GET /reports", h.ListReports)
	mux.HandleFunc("POST /reports/{id}/support", h.SupportReport)
	mux.HandleFunc("POST /sightings", h.CreateSighting)
	mux.HandleFunc("GET /sightings", h.ListSightings)
	mux.HandleFunc("POST /sightings/{id}/confirm", h.ConfirmSighting)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var acct model.Account
	if !h.decode(w, r, &acct) {
		return
	}
	if err := h.reg.Accounts.CreateAccount(r.Context(), acct); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, acct)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.reg.Accounts.Accounts(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, accts)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.reg.Accounts.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, acct)
}

func (h *Handler) AddPoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points int64 `json:"points"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reg.Accounts.AddPoints(r.Context(), r.PathValue("id"), req.Points); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "credited"})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromID string  `json:"from_id"`
		ToID   string  `json:"to_id"`
		Amount float64 `json:"amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reg.Accounts.Transfer(r.Context(), req.FromID, req.ToID, req.Amount); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (h *Handler) CreateDeclaration(w http.ResponseWriter, r *http.Request) {
	var in market.CreateDeclarationInput
	if !h.decode(w, r, &in) {
		return
	}
	decl, err := h.reg.Declarations.CreateDeclaration(r.Context(), in)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, decl)
}

func (h *Handler) ListDeclarations(w http.ResponseWriter, r *http.Request) {
	decls, err := h.reg.Declarations.Declarations(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, decls)
}

func (h *Handler) GetDeclaration(w http.ResponseWriter, r *http.Request) {
	decl, err := h.reg.Declarations.Declaration(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, decl)
}

func (h *Handler) AcceptDeclaration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CollectorID string `json:"collector_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reg.Declarations.AcceptByCollector(r.Context(), r.PathValue("id"), req.CollectorID); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "collector_assigned"})
}

func (h *Handler) ConfirmWeight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActualWeight float64 `json:"actual_weight"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	decl, err := h.reg.Declarations.ConfirmWeight(r.Context(), r.PathValue("id"), req.ActualWeight)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, decl)
}

func (h *Handler) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PointID string `json:"point_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reg.Declarations.LiquidateAtPoint(r.Context(), req.PointID, r.PathValue("id")); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) CollectionRoute(w http.ResponseWriter, r *http.Request) {
	decls, err := h.reg.Declarations.CollectionRoute(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, decls)
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var in market.CreateServiceInput
	if !h.decode(w, r, &in) {
		return
	}
	svc, err := h.reg.Services.CreateService(r.Context(), in)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, svc)
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	svcs, err := h.reg.Services.Services(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, svcs)
}

func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.reg.Services.Service(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, svc)
}

func (h *Handler) BindProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderID string `json:"provider_id"`
		Scope      string `json:"scope"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reg.Services.BindProvider(r.Context(), r.PathValue("id"), req.ProviderID, req.Scope); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *Handler) CounterOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount     float64 `json:"amount"`
		IsProvider bool    `json:"is_provider"`
		Scope      string  `json:"scope"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reg.Services.CounterOffer(r.Context(), r.PathValue("id"), req.Amount, req.IsProvider, req.Scope); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "countered"})
}

func (h *Handler) AcceptPrice(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Services.AcceptPrice(r.Context(), r.PathValue("id")); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "agreed"})
}

func (h *Handler) PayEscrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PayerID string `json:"payer_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reg.Services.PayEscrow(r.Context(), r.PathValue("id"), req.PayerID); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "tax_paid"})
}

func (h *Handler) ScheduleService(w http.ResponseWriter, r *http.Request) {
	var sch model.Schedule
	if !h.decode(w, r, &sch) {
		return
	}
	if err := h.reg.Services.ScheduleService(r.Context(), r.PathValue("id"), sch); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

func (h *Handler) ReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Services.ReleaseEscrow(r.Context(), r.PathValue("id")); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handler) InjectEnergy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProducerID string  `json:"producer_id"`
		KWh        float64 `json:"kwh"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reg.Energy.InjectEnergy(r.Context(), req.ProducerID, req.KWh); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "injected"})
}

func (h *Handler) AssignConsumer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProducerID     string  `json:"producer_id"`
		ConsumerLabel  string  `json:"consumer_label"`
		InstallationID string  `json:"installation_id"`
		KWh            float64 `json:"kwh"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	assignment, err := h.reg.Energy.AssignConsumer(r.Context(), req.ProducerID, req.ConsumerLabel, req.InstallationID, req.KWh)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, assignment)
}

func (h *Handler) SettleBill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConsumerID string  `json:"consumer_id"`
		KWh        float64 `json:"kwh"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	settlement, err := h.reg.Energy.SettleConsumerBill(r.Context(), req.ConsumerID, req.KWh)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, settlement)
}

func (h *Handler) CreateCause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string `json:"title"`
		TargetPoints int64  `json:"target_points"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	cause, err := h.reg.Causes.CreateCause(r.Context(), req.Title, req.TargetPoints)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, cause)
}

func (h *Handler) ListCauses(w http.ResponseWriter, r *http.Request) {
	all, err := h.reg.Causes.Causes(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, all)
}

func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Points int64  `json:"points"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.reg.Causes.Vote(r.Context(), req.UserID, r.PathValue("id"), req.Points); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "voted"})
}

func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var in community.CreateReportInput
	if !h.decode(w, r, &in) {
		return
	}
	report, err := h.reg.Community.CreateReport(r.Context(), in)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, report)
}

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reg.Community.Reports(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, reports)
}

func (h *Handler) SupportReport(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Community.SupportReport(r.Context(), r.PathValue("id")); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "supported"})
}

func (h *Handler) CreateSighting(w http.ResponseWriter, r *http.Request) {
	var in community.CreateSightingInput
	if !h.decode(w, r, &in) {
		return
	}
	sighting, err := h.reg.Community.CreateSighting(r.Context(), in)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, sighting)
}

func (h *Handler) ListSightings(w http.ResponseWriter, r *http.Request) {
	sightings, err := h.reg.Community.Sightings(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sightings)
}

func (h *Handler) ConfirmSighting(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Community.ConfirmSighting(r.Context(), r.PathValue("id")); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return false
	}
	return true
}

// statusFor maps the error taxonomy to HTTP so callers can tell a
// business-rule refusal (fix the request) from a transient backend fault
// (safe to retry).
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInsufficientFunds), errors.Is(err, model.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrAlreadyExists),
		errors.Is(err, model.ErrAlreadySettled),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrStaleWrite):
		return http.StatusConflict
	case errors.Is(err, model.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	h.respondJSON(w, statusFor(err), map[string]any{
		"error":     err.Error(),
		"retryable": !model.IsBusiness(err),
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
