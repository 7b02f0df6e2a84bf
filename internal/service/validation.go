package service

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
)

var moduleNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validateRequest checks the validate tags of req. Missing required fields
// are reported together, other failures one at a time.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Internal(err)
	}

	var missing []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		}
	}
	if len(missing) > 0 {
		return apperrors.Validation("Missing required fields: " + strings.Join(missing, ", "))
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "email":
		return apperrors.Validation("Invalid email address")
	case "max":
		return apperrors.Validation(fe.Field() + " is too long")
	default:
		return apperrors.Validation("Invalid value for " + fe.Field())
	}
}
