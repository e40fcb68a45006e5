package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// validatorInstance lazily builds the shared validator with decimal support
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Numeric tags (gt, gte, lte) compare decimals as float64
		validate.RegisterCustomTypeFunc(func(v reflect.Value) any {
			if d, ok := v.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks a struct's validate tags and converts the first failure
// into a ValidationError
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:] // Drop the top-level struct name
		}
		return &ValidationError{Field: field, Message: describe(fe)}
	}
	return &ValidationError{Field: "request", Message: err.Error()}
}

// ValidateBars checks every bar and that serials are unique within the manifest
func ValidateBars(bars []GoldBar) error {
	seen := make(map[string]struct{}, len(bars))
	for i := range bars {
		if err := Validate(&bars[i]); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Field = fmt.Sprintf("bars[%d].%s", i, ve.Field[strings.LastIndex(ve.Field, ".")+1:])
			}
			return err
		}
		serial := strings.TrimSpace(bars[i].Serial)
		if _, dup := seen[serial]; dup {
			return &ValidationError{Field: fmt.Sprintf("bars[%d].serial", i), Message: fmt.Sprintf("duplicate serial %q", serial)}
		}
		seen[serial] = struct{}{}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "is too long"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "failed " + fe.Tag()
}
