package attendance

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mahudhurio/core"
)

var (
	// custom validation tags & texts
	modesTag  = "attmodes"
	modesText = "modes must be one or more of: qr, code, manual"

	recordStatusTag  = "attstatus"
	recordStatusText = "status must be one of: present, absent, excused"
)

// InitValidators registers the attendance domain's custom validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(modesTag, modesValidation)
	core.RegisterCustomTranslation(validate, translator, modesTag, modesText)

	_ = validate.RegisterValidation(recordStatusTag, recordStatusValidation)
	core.RegisterCustomTranslation(validate, translator, recordStatusTag, recordStatusText)
}

// modesValidation checks that a []string holds valid, known check-in modes.
func modesValidation(fl validator.FieldLevel) bool {
	values, ok := fl.Field().Interface().([]string)
	if !ok || len(values) == 0 {
		return false
	}
	if _, err := ParseModeSet(values); err != nil {
		return false
	}
	return true
}

// recordStatusValidation checks a single attendance record status string.
func recordStatusValidation(fl validator.FieldLevel) bool {
	_, err := ParseRecordStatus(fl.Field().String())
	return err == nil
}
