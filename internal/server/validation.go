package server

import (
	"errors"
	"sync"

	"github.com/dcruzimoveis/leadmatch/internal/geocode"
	"github.com/dcruzimoveis/leadmatch/internal/phone"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	tagBrazilianPhone = "br_phone"
	tagPostalCode     = "cep"
	postalCodeDigits  = 8
)

var (
	errValidatorEngine = errors.New("gin binding validator is not go-playground/validator")

	registerOnce  sync.Once
	registerError error
)

// registerValidators adds the br_phone and cep tags to gin's binding validator.
func registerValidators() error {
	registerOnce.Do(func() {
		validate, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerError = errValidatorEngine
			return
		}
		if err := validate.RegisterValidation(tagBrazilianPhone, validateBrazilianPhone); err != nil {
			registerError = err
			return
		}
		registerError = validate.RegisterValidation(tagPostalCode, validatePostalCode)
	})
	return registerError
}

func validateBrazilianPhone(field validator.FieldLevel) bool {
	return phone.Valid(field.Field().String())
}

func validatePostalCode(field validator.FieldLevel) bool {
	return len(geocode.NormalizePostalCode(field.Field().String())) == postalCodeDigits
}
