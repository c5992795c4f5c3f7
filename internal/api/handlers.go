package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/skillnet-labs/examchain-backend/internal/indexer"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/store"
)

// IndexerService is the part of the indexing service the API exposes.
type IndexerService interface {
	Status(ctx context.Context) (*indexer.Status, error)
	Scan(ctx context.Context, fromBlock, toBlock uint64) (*indexer.ScanResult, error)
	RunMaintenance(ctx context.Context, vacuum bool) (*indexer.MaintenanceResult, error)
	Events(ctx context.Context, qp store.QueryParams) ([]*store.ChainEvent, int, error)
	IndexedExams(ctx context.Context, limit, offset int) ([]*indexer.IndexedExam, int, error)
	IndexedRegistrations(ctx context.Context, examID string, limit, offset int) ([]*indexer.IndexedRegistration, int, error)
	IndexedResults(ctx context.Context, examID, userAddress string, limit, offset int) ([]*indexer.IndexedResult, int, error)
}

// Handler serves the REST endpoints.
type Handler struct {
	svc IndexerService
	log *logger.Logger
}

// NewHandler creates the request handler.
func NewHandler(svc IndexerService, log *logger.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg, Code: status})
}

func respondList(w http.ResponseWriter, items interface{}, total, limit, offset int) {
	respondJSON(w, http.StatusOK, ListResponse{
		Items: items,
		Pagination: PaginationResult{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+limit < total,
		},
	})
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// parsePagination reads limit and offset query parameters. The limit is
// clamped to 1..1000.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxLimit {
			return 0, 0, errInvalidParam("limit")
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, errInvalidParam("offset")
		}
	}

	return limit, offset, nil
}

type paramError string

func (e paramError) Error() string { return "invalid query parameter: " + string(e) }

func errInvalidParam(name string) error { return paramError(name) }

// HealthCheck godoc
// @Summary Health check
// @Description Reports service liveness and the indexer lifecycle state
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read indexer status")
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Indexer:   string(st.State),
	})
}

// GetStatus godoc
// @Summary Indexer status
// @Description Returns the indexing position, backlog and monitored contracts
// @Tags indexer
// @Produce json
// @Security BearerAuth
// @Success 200 {object} indexer.Status
// @Failure 401 {object} ErrorResponse
// @Router /indexer/status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		h.log.Errorw("status query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read indexer status")
		return
	}

	respondJSON(w, http.StatusOK, st)
}

// ScanBlocks godoc
// @Summary Scan a block range
// @Description Re-ingests a historical block range over a dedicated stream connection. Idempotent with respect to already stored events.
// @Tags indexer
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ScanRequest true "Block range"
// @Success 200 {object} indexer.ScanResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /indexer/scan [post]
func (h *Handler) ScanBlocks(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FromBlock == 0 {
		respondError(w, http.StatusBadRequest, "from_block is required")
		return
	}

	result, err := h.svc.Scan(r.Context(), req.FromBlock, req.ToBlock)
	if err != nil {
		h.log.Errorw("scan failed",
			"fromBlock", req.FromBlock, "toBlock", req.ToBlock, "error", err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// RunMaintenance godoc
// @Summary Run database maintenance
// @Description Checkpoints the write-ahead log and optionally vacuums the database
// @Tags indexer
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body MaintenanceRequest false "Maintenance options"
// @Success 200 {object} indexer.MaintenanceResult
// @Failure 403 {object} ErrorResponse
// @Router /indexer/maintenance [post]
func (h *Handler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	var req MaintenanceRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.svc.RunMaintenance(r.Context(), req.Vacuum)
	if err != nil {
		h.log.Errorw("maintenance failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ListEvents godoc
// @Summary List stored contract events
// @Description Queries the raw indexed events with optional filters
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param event_type query string false "Event name filter"
// @Param processed query bool false "Processed flag filter"
// @Param from_block query int false "Minimum block number"
// @Param to_block query int false "Maximum block number"
// @Param limit query int false "Page size (1-1000)" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} ListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /indexer/events [get]
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	qp := store.QueryParams{
		EventName: r.URL.Query().Get("event_type"),
		Limit:     limit,
		Offset:    offset,
	}

	if v := r.URL.Query().Get("processed"); v != "" {
		processed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, errInvalidParam("processed").Error())
			return
		}
		qp.Processed = &processed
	}
	if v := r.URL.Query().Get("from_block"); v != "" {
		from, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, errInvalidParam("from_block").Error())
			return
		}
		qp.FromBlock = &from
	}
	if v := r.URL.Query().Get("to_block"); v != "" {
		to, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, errInvalidParam("to_block").Error())
			return
		}
		qp.ToBlock = &to
	}

	events, total, err := h.svc.Events(r.Context(), qp)
	if err != nil {
		h.log.Errorw("event query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	respondList(w, events, total, limit, offset)
}

// ListExams godoc
// @Summary List indexed exams
// @Description Lists the exams projected from on-chain ExamCreated events
// @Tags exams
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (1-1000)" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} ListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /indexer/exams [get]
func (h *Handler) ListExams(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	exams, total, err := h.svc.IndexedExams(r.Context(), limit, offset)
	if err != nil {
		h.log.Errorw("exam query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to query exams")
		return
	}

	respondList(w, exams, total, limit, offset)
}

// ListRegistrations godoc
// @Summary List indexed registrations
// @Description Lists registrations projected from on-chain UserRegistered events
// @Tags registrations
// @Produce json
// @Security BearerAuth
// @Param exam_id query string false "Exam id filter"
// @Param limit query int false "Page size (1-1000)" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} ListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /indexer/registrations [get]
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	regs, total, err := h.svc.IndexedRegistrations(r.Context(), r.URL.Query().Get("exam_id"), limit, offset)
	if err != nil {
		h.log.Errorw("registration query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to query registrations")
		return
	}

	respondList(w, regs, total, limit, offset)
}

// ListResults godoc
// @Summary List indexed exam results
// @Description Lists results projected from on-chain ExamCompleted events. The user address accepts the stored decimal form or 0x-prefixed hex.
// @Tags results
// @Produce json
// @Security BearerAuth
// @Param exam_id query string false "Exam id filter"
// @Param user_address query string false "User wallet filter"
// @Param limit query int false "Page size (1-1000)" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} ListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /indexer/results [get]
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, total, err := h.svc.IndexedResults(
		r.Context(),
		r.URL.Query().Get("exam_id"),
		r.URL.Query().Get("user_address"),
		limit, offset,
	)
	if err != nil {
		h.log.Errorw("result query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to query results")
		return
	}

	respondList(w, results, total, limit, offset)
}
