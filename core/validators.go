package core

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// app-wide custom validation tags
const (
	AlphaNumUnderTag = "alphanum_"
	DateOnlyTag      = "dateonly" // calendar date, YYYY-MM-DD
)

var alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

// InitValidators wires the shared validator: default english translations,
// JSON tag names in error output and the app-wide custom tags. Domain
// packages register their own tags on top via RegisterCustomTranslation.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// field names in error output come from the json tag, not the Go name
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(AlphaNumUnderTag, func(fl validator.FieldLevel) bool {
		return alphaNumUnderRegex.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation(DateOnlyTag, func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})

	RegisterCustomTranslation(validate, translator, AlphaNumUnderTag, "only alphanumeric characters and underscores are allowed")
	RegisterCustomTranslation(validate, translator, DateOnlyTag, "must be a YYYY-MM-DD date")
	for _, tag := range []string{"required", "required_with"} {
		RegisterCustomTranslation(validate, translator, tag, "this field is required", true)
	}
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}
