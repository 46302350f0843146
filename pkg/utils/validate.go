package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs the struct's validate tags.
func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, validationError(err)
	}
	return value, nil
}

// ValidateValue checks a single value against a validator tag such as
// "required,gt=0".
func ValidateValue(value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError flattens validator field errors into one readable message.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("field '%s' failed rule '%s'", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		parts = append(parts, msg)
	}
	return errors.New(strings.Join(parts, "; "))
}
