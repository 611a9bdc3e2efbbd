package posting

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// HeaderIdempotencyKey makes a movement submission replay-safe.
const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyModule scopes the Idempotency-Key claims of movement submissions.
const IdempotencyModule = "stock_movement"

// IdempotencyStore claims submission keys.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// Handler wires HTTP endpoints for ledger postings.
type Handler struct {
	logger  *slog.Logger
	service *Service
	keys    IdempotencyStore
}

// NewHandler constructs the posting handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// WithIdempotency rejects movements whose Idempotency-Key was already processed.
func (h *Handler) WithIdempotency(keys IdempotencyStore) *Handler {
	h.keys = keys
	return h
}

// MountRoutes registers posting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleMovement)
	r.Get("/bins/{item}/{warehouse}", h.handleBin)
	r.Get("/entries", h.handleEntries)
	r.Put("/items/{code}", h.handleSaveItem)
}

type movementPayload struct {
	VoucherType          ledger.VoucherType   `json:"voucher_type"`
	VoucherNo            string               `json:"voucher_no"`
	Company              string               `json:"company"`
	Cancel               bool                 `json:"cancel"`
	AllowNegativeStock   bool                 `json:"allow_negative_stock"`
	AllowZeroRate        bool                 `json:"allow_zero_valuation_rate"`
	ViaLandedCostVoucher bool                 `json:"via_landed_cost_voucher"`
	Entries              []ledger.Entry       `json:"entries"`
	Lines                []ledger.VoucherLine `json:"lines"`
}

func (h *Handler) handleMovement(w http.ResponseWriter, r *http.Request) {
	var payload movementPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	key := r.Header.Get(HeaderIdempotencyKey)
	if key != "" && h.keys != nil {
		if err := h.keys.Claim(r.Context(), key); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate", "movement already processed for key "+key)
				return
			}
			h.respondError(w, r, err)
			return
		}
	}
	res, err := h.service.RecordMovement(r.Context(), MovementRequest{
		Voucher:              ledger.VoucherRef{Type: payload.VoucherType, No: payload.VoucherNo},
		Company:              payload.Company,
		Entries:              payload.Entries,
		Lines:                payload.Lines,
		Cancel:               payload.Cancel,
		AllowNegativeStock:   payload.AllowNegativeStock,
		AllowZeroRate:        payload.AllowZeroRate,
		ViaLandedCostVoucher: payload.ViaLandedCostVoucher,
	})
	if err != nil {
		// A committed movement keeps its key even when the synchronous repost failed.
		if key != "" && h.keys != nil && !res.Committed {
			if derr := h.keys.Release(r.Context(), key); derr != nil {
				h.logger.WarnContext(r.Context(), "release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		h.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if payload.Cancel {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) handleBin(w http.ResponseWriter, r *http.Request) {
	key := ledger.Key{ItemCode: chi.URLParam(r, "item"), Warehouse: chi.URLParam(r, "warehouse")}
	bin, ok, err := h.service.Bin(r.Context(), key)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no bin for "+key.String())
		return
	}
	httpx.JSON(w, http.StatusOK, bin)
}

func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.EntryFilter{
		ItemCode:  q.Get("item"),
		Warehouse: q.Get("warehouse"),
	}
	if raw := q.Get("voucher_type"); raw != "" {
		vt, err := ledger.ParseVoucherType(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		filter.Voucher = ledger.VoucherRef{Type: vt, No: q.Get("voucher_no")}
	}
	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from")
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid limit")
			return
		}
	}
	entries, err := h.service.Entries(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type itemPayload struct {
	ValuationMethod    string  `json:"valuation_method"`
	ValuationRate      float64 `json:"valuation_rate"`
	StandardRate       float64 `json:"standard_rate"`
	AllowNegativeStock bool    `json:"allow_negative_stock"`
	IsStockItem        *bool   `json:"is_stock_item"`
}

func (h *Handler) handleSaveItem(w http.ResponseWriter, r *http.Request) {
	var payload itemPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	method, err := valuation.ParseMethod(payload.ValuationMethod)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	item := ledger.Item{
		Code:               chi.URLParam(r, "code"),
		ValuationMethod:    method,
		ValuationRate:      payload.ValuationRate,
		StandardRate:       payload.StandardRate,
		AllowNegativeStock: payload.AllowNegativeStock,
		IsStockItem:        payload.IsStockItem == nil || *payload.IsStockItem,
	}
	if err := h.service.SaveItem(r.Context(), item); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrNegativeStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ledger.ErrMissingValuationRate):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Missing Valuation Rate", err.Error())
	case errors.Is(err, ledger.ErrInvalidEntry), errors.Is(err, ErrEmptyMovement), errors.Is(err, ledger.ErrUnknownVoucherType):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		httpx.RespondError(w, err)
		if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrConflict) {
			h.logger.ErrorContext(r.Context(), "posting request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
	}
}
