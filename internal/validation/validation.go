// Package validation provides input validation for the FraudLens API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 500

var (
	// cardNumberRegex validates 16-digit card numbers
	cardNumberRegex = regexp.MustCompile(`^[0-9]{16}$`)
	// binRegex validates 6-digit bank identification numbers
	binRegex = regexp.MustCompile(`^[0-9]{6}$`)
	// emailRegex is a permissive sanity check, not RFC 5322
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	// phoneRegex accepts optional +country prefix followed by 7-15 digits
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidCardNumber checks if a string is a 16-digit card number.
func IsValidCardNumber(s string) bool {
	return cardNumberRegex.MatchString(s)
}

// IsValidBIN checks if a string is a 6-digit BIN.
func IsValidBIN(s string) bool {
	return binRegex.MatchString(s)
}

// IsValidEmail checks if a string looks like an email address.
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}

// IsValidPhone checks if a string looks like a phone number.
func IsValidPhone(s string) bool {
	return phoneRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
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

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// Positive checks if a numeric field is greater than zero
func Positive(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value <= 0 {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}

// ValidCardNumber checks the card number format on optional fields
func ValidCardNumber(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidCardNumber(value) {
			return &ValidationError{Field: field, Message: "must be a 16-digit card number"}
		}
		return nil
	}
}

// ValidBIN checks the BIN format and, when a card number is present,
// that the BIN matches the card's first six digits.
func ValidBIN(field, bin, cardNumber string) func() *ValidationError {
	return func() *ValidationError {
		if bin == "" {
			return nil
		}
		if !IsValidBIN(bin) {
			return &ValidationError{Field: field, Message: "must be a 6-digit BIN"}
		}
		if IsValidCardNumber(cardNumber) && cardNumber[:6] != bin {
			return &ValidationError{Field: field, Message: "does not match card number prefix"}
		}
		return nil
	}
}

// ValidEmail checks the email format on optional fields
func ValidEmail(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidEmail(value) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// ValidPhone checks the phone format on optional fields
func ValidPhone(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidPhone(value) {
			return &ValidationError{Field: field, Message: "must be a valid phone number"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}
