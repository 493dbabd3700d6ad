package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "github.com/ticketry/dispute-api/pkg/errors"
)

// Field errors report the json name, not the Go field name.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return fld.Name
			}
			return name
		})
	}
}

// Context keys set by the auth middleware.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"

	RoleAdmin = "admin"
)

// CurrentUserID returns the authenticated caller's id from the
// request context.
func CurrentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetString(ContextUserID)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// IsAdmin reports whether the authenticated caller carries the staff
// role.
func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextRole) == RoleAdmin
}

// RespondError writes the envelope for a service error, mapping the
// typed error taxonomy to its HTTP status.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = appErr.StatusCode()
		message = appErr.Message
	}

	c.Error(err)
	c.JSON(status, NewErrorResponse(message))
	c.Abort()
}

// FieldError is one field-level failure from request binding.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RespondBindError writes a 400 for a request body that failed
// binding, with per-field detail when the validator produced any.
func RespondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Message: bindMessage(fe)})
		}
		c.JSON(http.StatusBadRequest, &Response{
			Success: false,
			Message: "validation failed",
			Data:    gin.H{"errors": fields},
		})
		return
	}
	c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
}

func bindMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return "value is too short"
	case "max":
		return "value is too long"
	case "oneof":
		return "value is not one of the allowed options"
	case "gt", "gte":
		return "value is too small"
	default:
		return fe.Error()
	}
}
