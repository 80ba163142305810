package ctrl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	ent "CivicAlertManager/internal/entity"
)

// AlertService is the part of the scheduler the HTTP API drives.
type AlertService interface {
	Submit(ctx context.Context, r ent.Report) (ent.Alert, bool, error)
	ReportResolved(ctx context.Context, reportID string) error
	EscalateNow(ctx context.Context, reportID string) error
	Get(ctx context.Context, alertID string) (ent.Alert, error)
	History(ctx context.Context, alertID string) ([]ent.NotificationAttempt, error)
	SetAvailability(authorityID string, state ent.Availability) error
}

// maxBodyBytes caps the size of a request body.
const maxBodyBytes = 64 << 10

// ReloadFunc re-reads authorities and rules.
type ReloadFunc func(ctx context.Context) error

type AlertController struct {
	alerts  AlertService
	reload  ReloadFunc
	metrics http.Handler
	logger  *zap.Logger
}

// NewAlertController builds the API. reload and metrics may be nil, in which
// case their routes are not registered.
func NewAlertController(alerts AlertService, reload ReloadFunc, metrics http.Handler, logger *zap.Logger) *AlertController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertController{
		alerts:  alerts,
		reload:  reload,
		metrics: metrics,
		logger:  logger,
	}
}

func (h *AlertController) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/alerts", h.HandleAlert).Methods(http.MethodPost)
	r.HandleFunc("/alerts/{alertID}", h.HandleGetAlert).Methods(http.MethodGet)
	r.HandleFunc("/alerts/{alertID}/history", h.HandleHistory).Methods(http.MethodGet)
	r.HandleFunc("/reports/{reportID}/resolved", h.HandleResolved).Methods(http.MethodPost)
	r.HandleFunc("/reports/{reportID}/escalate", h.HandleEscalate).Methods(http.MethodPost)
	r.HandleFunc("/authorities/{authorityID}/availability", h.HandleAvailability).Methods(http.MethodPut)
	if h.reload != nil {
		r.HandleFunc("/admin/reload", h.HandleReload).Methods(http.MethodPost)
	}
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}
	return r
}

// HandleAlert creates an alert for the posted report. A repeated post for a
// report that is still escalating answers 200 with the existing alert.
func (h *AlertController) HandleAlert(w http.ResponseWriter, r *http.Request) {
	var report ent.Report
	if !decodeBody(w, r, &report) {
		return
	}

	alert, created, err := h.alerts.Submit(r.Context(), report)
	if err != nil {
		h.fail(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, alert)
}

func (h *AlertController) HandleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Get(r.Context(), mux.Vars(r)["alertID"])
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

func (h *AlertController) HandleHistory(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.alerts.History(r.Context(), mux.Vars(r)["alertID"])
	if err != nil {
		h.fail(w, err)
		return
	}
	if attempts == nil {
		attempts = []ent.NotificationAttempt{}
	}
	h.writeJSON(w, http.StatusOK, attempts)
}

func (h *AlertController) HandleResolved(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.ReportResolved(r.Context(), mux.Vars(r)["reportID"]); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AlertController) HandleEscalate(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.EscalateNow(r.Context(), mux.Vars(r)["reportID"]); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type availabilityRequest struct {
	Availability string `json:"availability"`
}

func (h *AlertController) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	state, err := ent.ParseAvailability(req.Availability)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.alerts.SetAvailability(mux.Vars(r)["authorityID"], state); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AlertController) HandleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.reload(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("configuration reloaded")
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps engine errors onto HTTP status codes.
// decodeBody reads a JSON body of at most maxBodyBytes into v and answers
// the request itself when that fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ent.ErrInvalidReport),
		errors.Is(err, ent.ErrInvalidAvailability),
		errors.Is(err, ent.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, ent.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ent.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *AlertController) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func (h *AlertController) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}
