package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/palmkit/throttle/internal/middleware"
	"github.com/palmkit/throttle/internal/ratelimit"
	"github.com/palmkit/throttle/pkg/logger"
)

// LimitService is the sliding window limiter as seen by the HTTP layer.
type LimitService interface {
	Check(ctx context.Context, key, limiterType string) ratelimit.Result
	Reset(ctx context.Context, key, limiterType string) error
	Configure(limiterType string, rule ratelimit.Rule) error
	Rules() *ratelimit.Rules
}

// QuotaService is the quota tracker as seen by the HTTP layer.
type QuotaService interface {
	CheckQuota(ctx context.Context, key string, limit int, period ratelimit.Period) (ratelimit.QuotaResult, error)
	ResetQuota(ctx context.Context, key string, period ratelimit.Period) error
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// CheckRequest represents the body of POST /api/v1/check.
type CheckRequest struct {
	Key  string `json:"key" validate:"required,max=1024"`
	Type string `json:"type,omitempty" validate:"max=64"`
}

// CheckResponse reports a sliding window decision.
type CheckResponse struct {
	Allowed    bool   `json:"allowed"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetAt    string `json:"reset_at"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Penalty    int    `json:"penalty"`
}

// QuotaRequest represents the body of POST /api/v1/quota.
type QuotaRequest struct {
	Key    string `json:"key" validate:"required,max=1024"`
	Limit  int    `json:"limit" validate:"gt=0"`
	Period string `json:"period" validate:"required"`
}

// QuotaResponse reports a quota decision.
type QuotaResponse struct {
	Allowed   bool   `json:"allowed"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at"`
}

// RuleRequest represents the body of PUT /api/v1/rules/{type}.
type RuleRequest struct {
	Limit         int `json:"limit" validate:"gt=0"`
	WindowSeconds int `json:"window_seconds" validate:"gte=1"`
}

// RuleResponse describes one configured rule.
type RuleResponse struct {
	Type          string `json:"type"`
	Limit         int    `json:"limit"`
	WindowSeconds int    `json:"window_seconds"`
}

// RulesResponse lists every configured rule.
type RulesResponse struct {
	Rules []RuleResponse `json:"rules"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LimitsHandler exposes the limiter and quota tracker over HTTP.
type LimitsHandler struct {
	limits LimitService
	quotas QuotaService
	log    *logger.Logger
}

// NewLimitsHandler creates a new LimitsHandler.
func NewLimitsHandler(limits LimitService, quotas QuotaService, log *logger.Logger) *LimitsHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &LimitsHandler{
		limits: limits,
		quotas: quotas,
		log:    log.Named("handlers"),
	}
}

// Check handles POST /api/v1/check requests. Denied requests get 429 with
// the same body shape as allowed ones.
func (h *LimitsHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = ratelimit.DefaultType
	}

	result := h.limits.Check(r.Context(), req.Key, req.Type)
	middleware.SetRateLimitHeaders(w, result)

	status := http.StatusOK
	if !result.Allowed {
		status = http.StatusTooManyRequests
	}

	writeJSON(w, status, CheckResponse{
		Allowed:    result.Allowed,
		Limit:      result.Limit,
		Remaining:  result.Remaining,
		ResetAt:    result.ResetAt.UTC().Format(time.RFC3339),
		RetryAfter: result.RetryAfterSeconds(),
		Penalty:    result.Penalty,
	})
}

// Quota handles POST /api/v1/quota requests.
func (h *LimitsHandler) Quota(w http.ResponseWriter, r *http.Request) {
	var req QuotaRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	period, err := ratelimit.ParsePeriod(req.Period)
	if err != nil {
		status, errResp := mapErrorToResponse(err)
		writeJSON(w, status, errResp)
		return
	}

	result, err := h.quotas.CheckQuota(r.Context(), req.Key, req.Limit, period)
	if err != nil {
		status, errResp := mapErrorToResponse(err)
		writeJSON(w, status, errResp)
		return
	}

	w.Header().Set("X-Quota-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-Quota-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-Quota-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	status := http.StatusOK
	if !result.Allowed {
		status = http.StatusTooManyRequests
	}

	writeJSON(w, status, QuotaResponse{
		Allowed:   result.Allowed,
		Limit:     result.Limit,
		Used:      result.Used,
		Remaining: result.Remaining,
		ResetAt:   result.ResetAt.UTC().Format(time.RFC3339),
	})
}

// ResetLimit handles DELETE /api/v1/limits/{type}/{key} requests.
func (h *LimitsHandler) ResetLimit(w http.ResponseWriter, r *http.Request, limiterType, key string) {
	if err := h.limits.Reset(r.Context(), key, limiterType); err != nil {
		h.log.Error("reset limit failed", "type", limiterType, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to reset limit",
			Code:  "STORE_ERROR",
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetQuota handles DELETE /api/v1/quota/{period}/{key} requests.
func (h *LimitsHandler) ResetQuota(w http.ResponseWriter, r *http.Request, periodName, key string) {
	period, err := ratelimit.ParsePeriod(periodName)
	if err != nil {
		status, errResp := mapErrorToResponse(err)
		writeJSON(w, status, errResp)
		return
	}

	if err := h.quotas.ResetQuota(r.Context(), key, period); err != nil {
		status, errResp := mapErrorToResponse(err)
		if status == http.StatusInternalServerError {
			h.log.Error("reset quota failed", "period", string(period), "error", err)
		}
		writeJSON(w, status, errResp)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRules handles GET /api/v1/rules requests.
func (h *LimitsHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.limits.Rules()
	all := rules.All()

	resp := RulesResponse{Rules: make([]RuleResponse, 0, len(all))}
	for _, limiterType := range rules.Types() {
		resp.Rules = append(resp.Rules, toRuleResponse(limiterType, all[limiterType]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// SetRule handles PUT /api/v1/rules/{type} requests.
func (h *LimitsHandler) SetRule(w http.ResponseWriter, r *http.Request, limiterType string) {
	var req RuleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rule := ratelimit.Rule{
		Limit:  req.Limit,
		Window: time.Duration(req.WindowSeconds) * time.Second,
	}
	if err := h.limits.Configure(limiterType, rule); err != nil {
		status, errResp := mapErrorToResponse(err)
		writeJSON(w, status, errResp)
		return
	}

	writeJSON(w, http.StatusOK, toRuleResponse(limiterType, rule))
}

func toRuleResponse(limiterType string, rule ratelimit.Rule) RuleResponse {
	return RuleResponse{
		Type:          limiterType,
		Limit:         rule.Limit,
		WindowSeconds: int(rule.Window / time.Second),
	}
}

// decodeAndValidate parses the JSON body into dst and validates it. On
// failure it writes a 400 response and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return false
	}

	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: validationMessage(err),
			Code:  "VALIDATION_FAILED",
		})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s is %s", fe.Field(), fe.Tag())
	}
	return "invalid request"
}

// mapErrorToResponse maps limiter errors to HTTP status codes and error responses.
func mapErrorToResponse(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, ratelimit.ErrInvalidRule):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_RULE"}
	case errors.Is(err, ratelimit.ErrInvalidLimit):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_LIMIT"}
	case errors.Is(err, ratelimit.ErrInvalidPeriod):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PERIOD"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "INTERNAL_ERROR"}
	}
}
