package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
)

// newValidator reports fields by their JSON names and knows the
// billing-specific tags "schedule" and "date".
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		_, err := billing.ParseSchedule(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := parseDate(fl.Field().String())
		return err == nil
	})
	return v
}

// parseDate accepts YYYY-MM-DD and the YYYY/MM/DD form the front end sends.
// Empty means today and returns the zero TimePoint.
func parseDate(s string) (generic.TimePoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return generic.TimePoint{}, nil
	}
	return generic.ParseDate(strings.ReplaceAll(s, "/", "-"))
}

// validationDetails formats validator errors for ErrorResponse.Details.
func validationDetails(err error) []ValidationDetail {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make([]ValidationDetail, 0, len(verrs))
	for _, e := range verrs {
		details = append(details, ValidationDetail{
			Field:   e.Field(),
			Message: validationMessage(e),
		})
	}
	return details
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "max":
		return "Must be at most " + e.Param() + " characters"
	case "schedule":
		return "Must be one of: Annual, Two-Pay, Quarterly, Monthly"
	case "date":
		return "Must be a date formatted YYYY-MM-DD"
	default:
		return "Invalid value"
	}
}
