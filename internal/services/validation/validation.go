// Package validation wraps go-playground/validator with the worker's custom tags
// and converts validation failures into worker errors.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/sheetporter/internal/models"
)

// mappingIDPattern is "<Category>.<Type>", e.g. Customers.Basic
var mappingIDPattern = regexp.MustCompile(`^[^.\s]+\.[^.\s]+$`)

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator instance
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New()

		// Report json (or toml) names so errors match what the caller sent
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "toml"} {
				name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
				if name != "" && name != "-" {
					return name
				}
			}
			return fld.Name
		})

		_ = v.RegisterValidation("mapping_id", func(fl validator.FieldLevel) bool {
			return IsMappingID(fl.Field().String())
		})

		instance = v
	})
	return instance
}

// IsMappingID reports whether id has the Category.Type shape
func IsMappingID(id string) bool {
	return mappingIDPattern.MatchString(id)
}

// Struct validates s and returns a validation WorkerError naming the offending fields.
// Missing required fields take precedence over other failures in the message.
func Struct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return models.NewValidationError(err.Error())
	}

	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		} else {
			invalid = append(invalid, describe(fe))
		}
	}

	if len(missing) > 0 {
		return models.NewMissingFieldsError(missing)
	}
	return models.NewValidationError("Invalid fields: "+strings.Join(invalid, ", "), fieldNames(verrs)...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "mapping_id":
		return fe.Field() + " must have the form Category.Type"
	case "startswith":
		return fe.Field() + " must start with " + fe.Param()
	default:
		return fe.Field() + " failed " + fe.Tag()
	}
}

func fieldNames(verrs validator.ValidationErrors) []string {
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fe.Field())
	}
	return names
}
