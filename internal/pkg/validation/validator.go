package validation

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// StructValidator is a singleton instance of the validator.
var StructValidator = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse represents a validation error message.
type ErrorResponse struct {
	FailedField string `json:"failed_field"`
	Tag         string `json:"tag"`
	Value       string `json:"value"`
	Message     string `json:"message"` // Custom message
}

// ValidateStruct performs validation on a struct.
// It returns a slice of ErrorResponse if validation fails, or nil otherwise.
func ValidateStruct(payload interface{}) []*ErrorResponse {
	var errors []*ErrorResponse
	err := StructValidator.Struct(payload)
	if err != nil {
		for _, err := range err.(validator.ValidationErrors) {
			var element ErrorResponse
			element.FailedField = err.StructNamespace() // Fully qualified field name
			element.Tag = err.Tag()
			element.Value = fmt.Sprintf("%v", err.Value()) // Value that failed validation
			element.Message = generateValidationMessage(err)
			errors = append(errors, &element)
		}
	}
	return errors
}

// generateValidationMessage creates a user-friendly message for a validation error.
// This can be customized further based on specific tags or fields.
func generateValidationMessage(err validator.FieldError) string {
	field := err.Field()
	tag := err.Tag()
	param := err.Param()
	kind := err.Kind() // Get the reflect.Kind of the field

	switch tag {
	case "required":
		return fmt.Sprintf("The %s field is required.", field)
	case "min":
		switch kind {
		case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
			return fmt.Sprintf("The %s field must have at least %s items/characters.", field, param)
		default: // For numbers
			return fmt.Sprintf("The %s field must be at least %s.", field, param)
		}
	case "max":
		switch kind {
		case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
			return fmt.Sprintf("The %s field must have at most %s items/characters.", field, param)
		default: // For numbers
			return fmt.Sprintf("The %s field must be at most %s.", field, param)
		}
	// Add more cases for other common tags as needed
	default:
		return fmt.Sprintf("The %s field is not valid (tag: %s).", field, tag)
	}
}
