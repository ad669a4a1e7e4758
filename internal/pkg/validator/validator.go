package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Payment method validation
	validate.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		method := fl.Field().String()
		for _, m := range []string{"transfer", "cash", "card"} {
			if method == m {
				return true
			}
		}
		return false
	})

	// Who ended a parking session
	validate.RegisterValidation("ended_by", func(fl validator.FieldLevel) bool {
		endedBy := fl.Field().String()
		for _, e := range []string{"user", "guard", "system"} {
			if endedBy == e {
				return true
			}
		}
		return false
	})
}

// ValidateStruct validates a struct and returns field -> message details
func ValidateStruct(v interface{}) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	details := make(map[string]string)
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		details["_"] = err.Error()
		return details
	}

	for _, fe := range validationErrors {
		details[fe.Field()] = messageForTag(fe)
	}
	return details
}

func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "payment_method":
		return "must be one of: transfer, cash, card"
	case "ended_by":
		return "must be one of: user, guard, system"
	case "min":
		return "value is below the minimum of " + fe.Param()
	case "max":
		return "value is above the maximum of " + fe.Param()
	case "uuid":
		return "must be a valid UUID"
	default:
		return "failed validation: " + fe.Tag()
	}
}
