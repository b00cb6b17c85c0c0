package domain

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// validate is shared by every struct validation in the domain package.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("entity_type", func(fl validator.FieldLevel) bool {
		return EntityType(fl.Field().String()).Valid()
	})
	return v
}

// Validator returns the package validator so that transport layers validate
// request bodies with the same custom rules.
func Validator() *validator.Validate {
	return validate
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	return errors.As(err, target)
}
