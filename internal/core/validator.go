package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"classifieds/internal/boost"
	"classifieds/internal/types"
)

// Validator wraps go-playground/validator with the boost-specific tags.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags:
//
//	plancode: the value resolves through the plan catalog (codes or aliases)
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("plancode", func(fl validator.FieldLevel) bool {
		_, ok := boost.ResolvePlan(fl.Field().String())
		return ok
	})
	return &Validator{validate: v, logger: logger}
}

// ValidateStruct checks s against its validate tags and returns the first
// failure as a *types.AppError. Missing fields map to
// validation_missing_required_field, an unknown plan to
// validation_invalid_plan, anything else to validation_invalid_input.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		v.logger.Error("struct validation misconfigured", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fe := verrs[0]
	details := map[string]any{"field": fe.Field()}
	switch fe.Tag() {
	case "required":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, fe.Field()+" is required", nil, details)
	case "plancode":
		details["planCode"] = fe.Value()
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPlan, "unknown plan code", nil, details)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidInput, fe.Field()+" is invalid", nil, details)
	}
}
