package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// rows on disk are one per line
		_ = validate.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
			return !strings.ContainsAny(fl.Field().String(), "\r\n")
		})
	})
	return validate
}

// validateProfile trims p and checks it, returning ErrInvalidProfile with the
// offending fields on failure
func validateProfile(p Profile) (Profile, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Roll = strings.TrimSpace(p.Roll)

	err := getValidator().Struct(p)
	if err == nil {
		return p, nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return p, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			messages = append(messages, field+" is required")
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "singleline":
			messages = append(messages, field+" must not contain line breaks")
		default:
			messages = append(messages, field+" is invalid")
		}
	}
	return p, fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(messages, "; "))
}
