package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	// decimal.Decimal is a struct, so "required" cannot see its zero value.
	if err := vld.RegisterValidation("nonzero_decimal", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && !d.IsZero()
	}); err != nil {
		return nil, fmt.Errorf("registering nonzero_decimal: %w", err)
	}
	if err := vld.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		return nil, fmt.Errorf("registering notblank: %w", err)
	}
	return vld, nil
}

// ValidateStruct checks payload against its `validate` tags. The first
// violation is reported as an ErrValidation.
func ValidateStruct(payload any) error {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	if errValidate != nil {
		return fmt.Errorf("ValidateStruct: %w", errValidate)
	}

	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return Validationf("field %s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return Validationf("field %s failed %s", fe.Field(), fe.Tag())
	}
	return Validationf("%v", err)
}
