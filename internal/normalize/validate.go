package normalize

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports one field value that was dropped. The record is
// still imported without it.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
	digitsRe     = regexp.MustCompile(`^[0-9]+$`)
)

// getValidator returns the shared validator. validator.Validate caches
// struct metadata and is safe for concurrent use.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// "numeric" accepts signs and decimals; LWIN codes are bare digits.
		_ = validate.RegisterValidation("digits", func(fl validator.FieldLevel) bool {
			return digitsRe.MatchString(fl.Field().String())
		})
	})
	return validate
}

type lwinCodes struct {
	LWIN7  string `json:"lwin7" validate:"omitempty,digits,len=7"`
	LWIN11 string `json:"lwin11" validate:"omitempty,digits,len=11"`
	LWIN18 string `json:"lwin18" validate:"omitempty,digits,len=18"`
}

type enrichmentFields struct {
	Rating   *float64 `json:"rating" validate:"omitempty,gte=0,lte=100"`
	Currency string   `json:"currency" validate:"omitempty,iso4217"`
	ImageURL string   `json:"image_url" validate:"omitempty,url,startswith=http"`
}

var tagReasons = map[string]string{
	"digits":     "must contain only digits",
	"len":        "must be exactly %s digits",
	"url":        "must be an absolute URL",
	"startswith": "must be an http(s) URL",
	"iso4217":    "must be an ISO 4217 currency code",
	"gte":        "must be at least %s",
	"lte":        "must be at most %s",
}

// validateStruct runs the validator and translates failures into one
// ValidationError per field.
func validateStruct(s any) []*ValidationError {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []*ValidationError{{Field: "record", Reason: err.Error()}}
	}
	out := make([]*ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		reason, ok := tagReasons[fe.Tag()]
		if !ok {
			reason = "failed " + fe.Tag()
		}
		if strings.Contains(reason, "%s") {
			reason = fmt.Sprintf(reason, fe.Param())
		}
		out = append(out, &ValidationError{Field: fe.Field(), Value: fmt.Sprint(deref(fe.Value())), Reason: reason})
	}
	return out
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		return rv.Elem().Interface()
	}
	return v
}
