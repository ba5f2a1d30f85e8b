// Package validation provides input validation for the control API.
package validation

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size. Control bodies are a
// single field, so this is generous.
const MaxRequestSize = 64 << 10 // 64KB

// MaxTransactionIDLength bounds the :id path parameter.
const MaxTransactionIDLength = 128

// transactionIDRegex accepts the ids the scoring service hands out and the
// tx_ ids this client may assign: letters, digits, dash, underscore, dot.
var transactionIDRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidTransactionID checks the shape of a transaction id.
func IsValidTransactionID(id string) bool {
	return len(id) <= MaxTransactionIDLength && transactionIDRegex.MatchString(id)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Present checks that an optional JSON field was supplied.
func Present[T any](field string, value *T) func() *ValidationError {
	return func() *ValidationError {
		if value == nil {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// IntRange checks lo <= *value <= hi. A nil value passes; pair with Present.
func IntRange(field string, value *int64, lo, hi int64) func() *ValidationError {
	return func() *ValidationError {
		if value == nil {
			return nil
		}
		if *value < lo || *value > hi {
			return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %d and %d", lo, hi)}
		}
		return nil
	}
}

// ParseLimit reads a ?limit= query value. Empty means def; values above max
// are clamped to max.
func ParseLimit(raw string, def, max int) (int, *ValidationError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &ValidationError{Field: "limit", Message: "must be a positive integer"}
	}
	if n > max {
		n = max
	}
	return n, nil
}

// TransactionIDParamMiddleware rejects malformed :id parameters early.
func TransactionIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidTransactionID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_transaction_id",
				"message": "transaction id may contain letters, digits, '.', '_' and '-' only",
			})
			return
		}
		c.Next()
	}
}
