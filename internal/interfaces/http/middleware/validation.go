package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/ucp/merchant/internal/interfaces/http/dto"
	"github.com/ucp/merchant/internal/interfaces/http/schema"
)

// RawBodyKey is the gin context key holding the request body read by ValidateSchema
const RawBodyKey = "raw_body"

// SetupValidator configures the binding validator to report JSON field names
func SetupValidator() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// FormatValidationErrors formats binding errors into the error envelope
func FormatValidationErrors(err error, requestID string) dto.ErrorResponse {
	var details []dto.ValidationDetail

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			details = append(details, dto.ValidationDetail{
				Field:   fieldPath(e.Namespace()),
				Message: getValidationMessage(e),
			})
		}
	}

	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError answers 400 for a binding error
func HandleValidationError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		AbortWithError(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body is not valid JSON")
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

// ValidateSchema checks the JSON body against the named schema before binding.
// The body is restored so handlers can bind it.
func ValidateSchema(registry *schema.Registry, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				AbortWithError(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge,
					"Request body exceeds maximum allowed size")
				return
			}
			AbortWithError(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body could not be read")
			return
		}
		_ = c.Request.Body.Close()

		if err := registry.Validate(name, body); err != nil {
			var verr *schema.ValidationError
			if errors.As(err, &verr) {
				resp := dto.NewErrorResponse(dto.ErrCodeSchema, "Request does not conform to schema", GetRequestID(c))
				for _, v := range verr.Violations {
					resp.Error.Details = append(resp.Error.Details, dto.ValidationDetail{Field: v.Field, Message: v.Message})
				}
				c.AbortWithStatusJSON(http.StatusBadRequest, resp)
				return
			}
			AbortWithError(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body is not valid JSON")
			return
		}

		c.Set(RawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// fieldPath drops the struct name from a validator namespace
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "iso4217":
		return "Must be an ISO 4217 currency code"
	case "min":
		if e.Kind() == reflect.String {
			return "Must be at least " + e.Param() + " characters"
		}
		if e.Kind() == reflect.Slice {
			return "Must contain at least " + e.Param() + " items"
		}
		return "Must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		if e.Kind() == reflect.Slice {
			return "Must contain at most " + e.Param() + " items"
		}
		return "Must be at most " + e.Param()
	case "oneof":
		return "Must be one of: " + e.Param()
	default:
		return "Invalid value"
	}
}
