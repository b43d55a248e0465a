package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Reason turns the first validation failure for a field into a message fit
// for an outbound error event.
func Reason(field string, errs validator.ValidationErrors) string {
	for _, fe := range errs {
		switch fe.ActualTag() {
		case "required":
			return fmt.Sprintf("%s is required", field)
		case "max":
			return fmt.Sprintf("%s exceeds the maximum length of %s", field, fe.Param())
		default:
			return fmt.Sprintf("%s is invalid", field)
		}
	}
	return field + " is invalid"
}
