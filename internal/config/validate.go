package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"freebooter/internal/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("toml"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return field.Name
		}
		return name
	})
	return v
}

// AsConfigError turns a decode or validation error for one entry into ConfigErrors.
func AsConfigError(section, name string, err error) error {
	if err == nil {
		return nil
	}
	if types.IsConfigError(err) {
		return err
	}
	return validationErrors(section, name, err)
}

func validationErrors(section, name string, err error) types.ConfigErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.ConfigErrors{{Section: section, Name: name, Reason: err.Error()}}
	}

	errs := make(types.ConfigErrors, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, &types.ConfigError{
			Section: section,
			Name:    name,
			Field:   fieldPath(fe.Namespace()),
			Reason:  describe(fe),
		})
	}
	return errs
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be > %s", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s", fe.Param())
	case "url":
		return "must be a URL"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
