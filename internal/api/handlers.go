package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexdev-tb/snippet-runner/internal/budget"
	"github.com/alexdev-tb/snippet-runner/internal/completion"
	"github.com/alexdev-tb/snippet-runner/internal/executor"
	"github.com/alexdev-tb/snippet-runner/internal/telemetry"
	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

const (
	// HeaderTimeout overrides the infrastructure budget, in milliseconds.
	HeaderTimeout = "Timeout"
	// HeaderUserCodeTimeout overrides the user-code budget, in milliseconds.
	HeaderUserCodeTimeout = "User-Code-Timeout"

	maxBodyBytes = 1 << 20
)

var errInvalidHeader = errors.New("invalid header")

type Handler struct {
	executor  executor.Executor
	completer completion.Completer
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	defaults  budget.Budgets
	ceiling   budget.Ceiling
}

type HandlerOption func(*Handler)

// WithBudgetCeiling rejects runs whose budgets, after filling unset ones from
// defaults, exceed ceiling.
func WithBudgetCeiling(defaults budget.Budgets, ceiling budget.Ceiling) HandlerOption {
	return func(h *Handler) {
		h.defaults = defaults.Or(budget.Defaults())
		h.ceiling = ceiling
	}
}

// NewHandler wires the run and completion endpoints. metrics may be nil.
func NewHandler(exec executor.Executor, completer completion.Completer, metrics *telemetry.Metrics, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = telemetry.Discard()
	}
	h := &Handler{executor: exec, completer: completer, metrics: metrics, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Run compiles and executes a snippet or workspace.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	logger := telemetry.RequestLogger(h.logger, ctx)

	budgets, err := parseBudgets(r.Header)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ceiling.Check(budgets.Or(h.defaults)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws, ok := h.readWorkspace(w, r)
	if !ok {
		return
	}

	result, err := h.executor.Run(ctx, executor.Request{Workspace: ws, Budgets: budgets})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, executor.ErrUserCodeTimeout):
		writeJSON(w, http.StatusExpectationFailed, result)
	case errors.Is(err, executor.ErrInfrastructureTimeout):
		logger.Warn("run exceeded infrastructure budget", "error", err)
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, workspace.ErrMalformedRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "execution failed")
	}
}

// Completion lists completion candidates at the workspace's cursor.
func (h *Handler) Completion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()

	ws, ok := h.readWorkspace(w, r)
	if !ok {
		h.recordCompletion("invalid")
		return
	}

	result, err := h.completer.Complete(ctx, ws)
	switch {
	case err == nil:
		h.recordCompletion("ok")
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, completion.ErrInvalidPosition), errors.Is(err, workspace.ErrMalformedRequest):
		h.recordCompletion("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, executor.ErrInfrastructureTimeout):
		h.recordCompletion("timeout")
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		h.recordCompletion("error")
		telemetry.RequestLogger(h.logger, ctx).Error("completion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "completion failed")
	}
}

func (h *Handler) readWorkspace(w http.ResponseWriter, r *http.Request) (workspace.Workspace, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return workspace.Workspace{}, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return workspace.Workspace{}, false
	}

	ws, err := workspace.Normalize(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return workspace.Workspace{}, false
	}
	return ws, true
}

func (h *Handler) recordCompletion(status string) {
	if h.metrics != nil {
		h.metrics.RecordCompletion(status)
	}
}

func parseBudgets(header http.Header) (budget.Budgets, error) {
	infra, err := parseMillis(header.Get(HeaderTimeout))
	if err != nil {
		return budget.Budgets{}, fmt.Errorf("%w %s: %v", errInvalidHeader, HeaderTimeout, err)
	}
	user, err := parseMillis(header.Get(HeaderUserCodeTimeout))
	if err != nil {
		return budget.Budgets{}, fmt.Errorf("%w %s: %v", errInvalidHeader, HeaderUserCodeTimeout, err)
	}
	return budget.Budgets{Infrastructure: infra, UserCode: user}, nil
}

func parseMillis(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	ms, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, errors.New("expected milliseconds")
	}
	if ms <= 0 {
		return 0, errors.New("timeout must be greater than zero")
	}
	if ms > int64(time.Hour/time.Millisecond) {
		return 0, errors.New("timeout must not exceed one hour")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
