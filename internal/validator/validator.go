package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/es"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	es_translations "github.com/go-playground/validator/v10/translations/es"
)

// trans is the singleton Spanish translator for validation errors.
var (
	trans     ut.Translator
	transOnce sync.Once
)

func translator() ut.Translator {
	transOnce.Do(func() {
		esLocale := es.New()
		uni := ut.New(esLocale, esLocale)
		trans, _ = uni.GetTranslator("es")
	})
	return trans
}

// Setup registers the validator with Spanish translations on Gin's binding
// engine, plus the "maxwords" tag capping writing content at maxWords words.
// Call once during application startup.
func Setup(maxWords int) {
	if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
		Register(v, maxWords)
	}
}

// Register configures v. Code validating outside Gin (the WebSocket stream)
// builds its own validator with New and shares the same rules.
func Register(v *govalidator.Validate, maxWords int) {
	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("maxwords", func(fl govalidator.FieldLevel) bool {
		return len(strings.Fields(fl.Field().String())) <= maxWords
	})

	t := translator()
	_ = es_translations.RegisterDefaultTranslations(v, t)
	_ = v.RegisterTranslation("maxwords", t,
		func(ut ut.Translator) error {
			return ut.Add("maxwords", "{0} supera el número máximo de palabras", true)
		},
		func(ut ut.Translator, fe govalidator.FieldError) string {
			t, _ := ut.T("maxwords", fe.Field())
			return t
		},
	)
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(translator())
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst any) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// New returns a standalone validator reading the same "binding" tags as Gin.
func New(maxWords int) *govalidator.Validate {
	v := govalidator.New()
	v.SetTagName("binding")
	Register(v, maxWords)
	return v
}
