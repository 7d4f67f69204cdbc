// Package validate wraps go-playground/validator with the tags used by
// request structs in this service.
package validate

import (
	"errors"

	"crm-calls/pkg/phone"

	"github.com/go-playground/validator/v10"
)

// TagPhoneE164 validates a string with phone.ValidE164 in the default region.
const TagPhoneE164 = "phone_e164"

type Validator struct {
	v *validator.Validate
}

// New returns a Validator with the service's custom tags registered.
func New(region string) *Validator {
	v := validator.New()
	_ = v.RegisterValidation(TagPhoneE164, func(fl validator.FieldLevel) bool {
		return phone.ValidE164(fl.Field().String(), region)
	})
	return &Validator{v: v}
}

func (val *Validator) Struct(s any) error {
	return val.v.Struct(s)
}

func (val *Validator) Var(field any, tag string) error {
	return val.v.Var(field, tag)
}

// FieldError is the first failing field of a struct validation.
type FieldError struct {
	Field string
	Tag   string
}

// FirstFieldError returns the first field-level failure in err, if any.
func FirstFieldError(err error) (FieldError, bool) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return FieldError{}, false
	}
	return FieldError{Field: ve[0].Field(), Tag: ve[0].Tag()}, true
}
