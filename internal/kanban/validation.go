package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxProjectIDBytes leaves room in the 255-byte file name limit for the
// ".yaml" suffix and the ".<id>.<random>.tmp" temp name used while writing.
const maxProjectIDBytes = 200

var validate = newValidator()

type projectParam struct {
	ProjectID string `validate:"required,max=128,projectid"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Project ids become file names, so they must stay inside the data directory.
	v.RegisterValidation("projectid", func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		if len(id) > maxProjectIDBytes || id == "." || id == ".." {
			return false
		}
		return !strings.ContainsAny(id, "/\\\x00")
	})
	return v
}

func validProjectID(id string) bool {
	return validate.Struct(projectParam{ProjectID: id}) == nil
}
