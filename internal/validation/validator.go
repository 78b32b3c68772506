package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// ValidationError names the first offending field of a form.
type ValidationError struct {
	Field   string // json field name
	Tag     string // failed rule, e.g. "digits"
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// New returns a validator with the custom rules used by checkout forms:
//
//	notblank  non-empty after trimming spaces
//	digits=N  exactly N digits once every non-digit is stripped
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validatorv10.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("digits", func(fl validatorv10.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(Digits(fl.Field().String())) == n
	})

	return v
}

// Digits strips every non-digit rune from s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateShipping checks a shipping form and returns a *ValidationError for
// the first offending field, in form order.
func ValidateShipping(v *validatorv10.Validate, in ShippingInput) error {
	return firstError(v.Struct(in))
}

// NormalizeShipping trims every field and reduces phone and postal code to digits.
func NormalizeShipping(in ShippingInput) ShippingInput {
	return ShippingInput{
		FullName:   strings.TrimSpace(in.FullName),
		Address:    strings.TrimSpace(in.Address),
		City:       strings.TrimSpace(in.City),
		State:      strings.TrimSpace(in.State),
		PostalCode: Digits(in.PostalCode),
		Phone:      Digits(in.Phone),
		Email:      strings.TrimSpace(in.Email),
	}
}

func firstError(err error) error {
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err
	}
	fe := ve[0]
	return &ValidationError{Field: fe.Field(), Tag: fe.Tag(), Message: message(fe)}
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "digits":
		return fmt.Sprintf("must contain exactly %s digits", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min", "max":
		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	default:
		return fe.Error()
	}
}
