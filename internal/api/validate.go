// internal/api/validate.go
package api

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/json-iterator/go"
)

// FieldError describes one invalid field. Path is the key path into the body.
type FieldError struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// ValidationError collects every problem found in a request body.
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		if len(d.Path) == 0 {
			msgs = append(msgs, d.Message)
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", strings.Join(d.Path, "."), d.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	// JSON numbers arrive as float64; integer rejects fractions.
	if err := v.RegisterValidation("integer", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return math.Trunc(f) == f
	}); err != nil {
		panic(fmt.Sprintf("api: failed to register integer validation: %v", err))
	}
	return v
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// decodeBody reads a JSON object. An empty body is an empty object.
func decodeBody(r *http.Request) (map[string]interface{}, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]interface{}{}, nil
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &ValidationError{Details: []FieldError{{Path: []string{}, Message: "Malformed JSON body"}}}
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, &ValidationError{Details: []FieldError{{Path: []string{}, Message: fmt.Sprintf("Expected object, received %s", typeName(v))}}}
	}
	return m, nil
}

// bind copies m into dst, a pointer to a struct of *string, *float64 and
// *bool fields, then runs the struct's validate tags. Null counts as absent.
// Every problem is reported, in field order, at most once per field.
func bind(m map[string]interface{}, dst interface{}) error {
	rv := reflect.ValueOf(dst).Elem()
	rt := rv.Type()

	problems := make(map[string]string)
	for i := 0; i < rt.NumField(); i++ {
		name := jsonName(rt.Field(i))
		v, ok := m[name]
		if !ok || v == nil {
			continue
		}
		field := rv.Field(i)
		want := field.Type().Elem()
		got := reflect.ValueOf(v)
		if got.Type() != want {
			problems[name] = fmt.Sprintf("Expected %s, received %s", kindName(want.Kind()), typeName(v))
			continue
		}
		ptr := reflect.New(want)
		ptr.Elem().Set(got)
		field.Set(ptr)
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("api: validating %s: %w", rt.Name(), err)
		}
		for _, fe := range verrs {
			if _, typed := problems[fe.Field()]; !typed {
				problems[fe.Field()] = message(fe)
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	details := make([]FieldError, 0, len(problems))
	for i := 0; i < rt.NumField(); i++ {
		name := jsonName(rt.Field(i))
		if msg, ok := problems[name]; ok {
			details = append(details, FieldError{Path: []string{name}, Message: msg})
		}
	}
	return &ValidationError{Details: details}
}

// message renders a failed rule the way API clients already parse it.
func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Required"
	case "url":
		return "Invalid url"
	case "oneof":
		return fmt.Sprintf("Invalid enum value. Expected '%s', received '%v'",
			strings.Join(strings.Fields(fe.Param()), "' | '"), deref(fe.Value()))
	case "integer":
		return "Expected integer, received float"
	case "min":
		return fmt.Sprintf("Number must be greater than or equal to %s", fe.Param())
	case "max":
		return fmt.Sprintf("Number must be less than or equal to %s", fe.Param())
	}
	return fmt.Sprintf("Invalid value (%s)", fe.Tag())
}

func deref(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return rv.Elem().Interface()
	}
	return v
}

func kindName(k reflect.Kind) string {
	switch k {
	case reflect.String:
		return "string"
	case reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	}
	return k.String()
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// isValidation reports whether err carries a *ValidationError.
func isValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
