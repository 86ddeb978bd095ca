package settings

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func validateStruct(s interface{}) error {
	if err := getValidator().Struct(s); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	return nil
}
