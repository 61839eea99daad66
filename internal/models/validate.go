package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidPayload = errors.New("invalid challenge payload")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the mandatory fields and that the answer index points into Options.
func (p ChallengePayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			if fe.Tag() == "required" {
				return fmt.Errorf("%w: missing required field: %s", ErrInvalidPayload, fe.Field())
			}
			return fmt.Errorf("%w: field %s failed %s", ErrInvalidPayload, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if *p.CorrectAnswerID < 0 || *p.CorrectAnswerID >= len(p.Options) {
		return fmt.Errorf("%w: correct_answer_id %d out of range for %d options",
			ErrInvalidPayload, *p.CorrectAnswerID, len(p.Options))
	}
	return nil
}
