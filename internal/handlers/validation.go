package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// messages maps "<json field>.<tag>" to the text reported for that failure
type messages map[string]string

// RequestValidator checks request bodies with struct tags and reports the
// failures as readable sentences
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator registers the linkedin_profile and notblank rules
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("linkedin_profile", func(fl validator.FieldLevel) bool {
		return strings.Contains(fl.Field().String(), "linkedin.com/in/")
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &RequestValidator{validate: v}
}

// Check validates req and returns one sentence per failed field, or nil
func (rv *RequestValidator) Check(req interface{}, text messages) []string {
	err := rv.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if msg, ok := text[fe.Field()+"."+fe.Tag()]; ok {
			details = append(details, msg)
			continue
		}
		details = append(details, fmt.Sprintf("%s failed the %s rule", fe.Field(), fe.Tag()))
	}
	return details
}
