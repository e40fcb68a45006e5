package api

import (
	"errors"                         // Error classification
	"gold_tally/internal/domain"     // Sentinel errors
	"gold_tally/internal/middleware" // Context keys
	"gold_tally/internal/pricefeed"  // Price feed errors
	"net/http"                       // HTTP status codes
	"strconv"                        // String conversion

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/google/uuid"     // Path ids
	"github.com/sirupsen/logrus" // Logging library
)

// statusFor maps a service error to its HTTP status. Order matters: a ledger
// failure may wrap a conflict, and Golden Rule violations are validation errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrLedgerUpdateFailure):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrGoldenRuleViolation),
		errors.Is(err, domain.ErrUnjustifiedVariance),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientCashSafety):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyConfirmed),
		errors.Is(err, domain.ErrAlreadyProcessed),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, pricefeed.ErrNoPrice):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError responds with the mapped status. Unclassified errors are logged and hidden;
// ledger update failures are surfaced verbatim.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()} // Error message
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field // Offending field
	}
	if status == http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{"path": c.FullPath(), "error": err}).Error("request failed")
		if !errors.Is(err, domain.ErrLedgerUpdateFailure) {
			body = gin.H{"error": "Internal server error"}
		}
	}
	c.JSON(status, body)
}

// badRequest rejects a body that failed to bind
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "detail": err.Error()})
}

// pathID parses the :id parameter, responding 400 on failure
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// actor is the JWT subject recorded on state changes
func actor(c *gin.Context) string {
	return c.GetString(middleware.CtxActor)
}

// pagination reads page and page_size with the defaults 1 and 20 (max 100)
func pagination(c *gin.Context) (int, int) {
	page := 1      // Default page number
	pageSize := 20 // Default page size
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v // Set page if valid
		}
	}
	// Check and set page size within limits
	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v // Set page size
		}
	}
	return page, pageSize
}

// userFilter reads the optional user_id query parameter
func userFilter(c *gin.Context) (uint, bool) {
	raw := c.Query("user_id")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
		return 0, false
	}
	return uint(v), true
}

// totalPages rounds up
func totalPages(total int64, pageSize int) int {
	return (int(total) + pageSize - 1) / pageSize
}
