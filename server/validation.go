package server

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/models"
)

var trans ut.Translator

func init() {
	english := en.New()
	uni := ut.New(english, english)
	trans, _ = uni.GetTranslator("en")

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = enTranslations.RegisterDefaultTranslations(v, trans)
	}
}

// decode binds the JSON body into v, validates it and trims its strings.
func decode(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return errs.NewValidationError(translateError(validationErrs))
		}
		return errs.NewValidationError("invalid request body")
	}
	if err := models.Sanitize(v); err != nil {
		return errs.NewValidationError(err.Error())
	}
	return nil
}

func translateError(validationErrs validator.ValidationErrors) string {
	messages := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		messages = append(messages, e.Translate(trans))
	}
	return strings.Join(messages, "; ")
}
