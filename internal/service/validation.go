package service

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/student-portal-api/internal/models"
)

// NewValidator returns a validator that reports JSON field names and knows the
// portal's custom tags.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	registerPortalValidations(v)
	return v
}

// registerPortalValidations is idempotent so every constructor may call it on a
// caller-supplied validator.
func registerPortalValidations(v *validator.Validate) {
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return models.UserRole(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("calendar_date", func(fl validator.FieldLevel) bool {
		return validCalendarDate(fl.Field().String())
	})
	_ = v.RegisterValidation("clock_time", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("15:04", fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(fl.Field().String()).Valid()
	})
}

func validCalendarDate(raw string) bool {
	t, err := time.Parse(models.DateLayout, raw)
	return err == nil && t.Format(models.DateLayout) == raw
}

func ensureValidator(v *validator.Validate) *validator.Validate {
	if v == nil {
		return NewValidator()
	}
	registerPortalValidations(v)
	return v
}
