package repost

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for repost jobs.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the repost handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers repost routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reposts", func(r chi.Router) {
		r.Post("/", h.handleSchedule)
		r.Get("/", h.handleList)
		r.Post("/run", h.handleRunDue)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/restart", h.handleRestart)
		r.Post("/{id}/cancel", h.handleCancel)
	})
}

type schedulePayload struct {
	BasedOn              BasedOn            `json:"based_on"`
	VoucherType          ledger.VoucherType `json:"voucher_type"`
	VoucherNo            string             `json:"voucher_no"`
	ItemCode             string             `json:"item_code"`
	Warehouse            string             `json:"warehouse"`
	PostedAt             time.Time          `json:"posted_at"`
	Company              string             `json:"company"`
	AllowZeroRate        bool               `json:"allow_zero_rate"`
	ViaLandedCostVoucher bool               `json:"via_landed_cost_voucher"`
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var payload schedulePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	job, err := h.service.Schedule(r.Context(), ScheduleRequest{
		BasedOn:              payload.BasedOn,
		Voucher:              ledger.VoucherRef{Type: payload.VoucherType, No: payload.VoucherNo},
		ItemCode:             payload.ItemCode,
		Warehouse:            payload.Warehouse,
		PostedAt:             payload.PostedAt,
		Company:              payload.Company,
		AllowZeroRate:        payload.AllowZeroRate,
		ViaLandedCostVoucher: payload.ViaLandedCostVoucher,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, job)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := JobFilter{
		BasedOn:   BasedOn(q.Get("based_on")),
		ItemCode:  q.Get("item"),
		Warehouse: q.Get("warehouse"),
		Limit:     shared.ParseLimit(q.Get("limit")),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, Status(strings.TrimSpace(s)))
		}
	}
	if raw := q.Get("voucher_type"); raw != "" {
		vt, err := ledger.ParseVoucherType(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		filter.Voucher = ledger.VoucherRef{Type: vt, No: q.Get("voucher_no")}
	}
	jobs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Restart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) handleRunDue(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.RunDue(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrPeriodClosed):
		httpx.Problem(w, http.StatusConflict, "Period Closed", err.Error())
	case errors.Is(err, ErrAccountingFrozen):
		httpx.Problem(w, http.StatusConflict, "Accounts Frozen", err.Error())
	case errors.Is(err, ErrLockNotObtained):
		httpx.Problem(w, http.StatusConflict, "Busy", "a repost for this job is already running")
	case errors.Is(err, ledger.ErrNegativeStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	default:
		httpx.RespondError(w, err)
		if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrConflict) && !errors.Is(err, httpx.ErrValidation) {
			h.logger.ErrorContext(r.Context(), "repost request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
	}
}
