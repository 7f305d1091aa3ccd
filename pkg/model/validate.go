package model

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// namePattern matches the identifiers HAProxy accepts for proxies and servers.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// FieldError describes one failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// ValidationError is returned when a resource does not satisfy its
// invariants. It is produced locally and never involves the network.
type ValidationError struct {
	Resource string       `json:"resource"`
	Fields   []FieldError `json:"fields"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Resource, strings.Join(msgs, "; "))
}

// Validate checks the required fields, ranges and enumerations of r.
func Validate(r Resource) error {
	if r == nil || reflect.ValueOf(r).IsNil() {
		return &ValidationError{Resource: "resource", Fields: []FieldError{{
			Field: "", Rule: "required", Message: "resource is required",
		}}}
	}

	err := validatorInstance().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %s: %w", r.Kind(), err)
	}

	out := &ValidationError{Resource: fmt.Sprintf("%s %q", r.Kind(), r.GetName())}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, fieldError(fe))
	}
	return out
}

// ValidateWithKey validates r and checks that it matches key.
func ValidateWithKey(r Resource, key Key) error {
	if err := key.Validate(); err != nil {
		return &ValidationError{Resource: key.String(), Fields: []FieldError{{
			Field: "key", Rule: "key", Message: err.Error(),
		}}}
	}
	if err := Validate(r); err != nil {
		return err
	}
	if r.Kind() != key.Kind {
		return &ValidationError{Resource: key.String(), Fields: []FieldError{{
			Field: "kind", Rule: "eqfield", Value: string(r.Kind()),
			Message: fmt.Sprintf("resource kind %s does not match key kind %s", r.Kind(), key.Kind),
		}}}
	}
	if r.GetName() != key.Name {
		return &ValidationError{Resource: key.String(), Fields: []FieldError{{
			Field: "name", Rule: "eqfield", Value: r.GetName(),
			Message: fmt.Sprintf("resource name %q does not match key name %q", r.GetName(), key.Name),
		}}}
	}
	return nil
}

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonFieldName)
		v.RegisterCustomTypeFunc(unwrapOptional, optionalTypes()...)
		_ = v.RegisterValidation("enum", validateEnum)
		_ = v.RegisterValidation("resname", func(fl validator.FieldLevel) bool {
			return namePattern.MatchString(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// optionalTypes lists every Optional instantiation that carries a constraint.
func optionalTypes() []any {
	return []any{
		Optional[string]{}, Optional[int64]{}, Optional[bool]{},
		Optional[ProxyMode]{}, Optional[AdvancedCheck]{}, Optional[CookieType]{},
		Optional[HTTPMethod]{}, Optional[MatchType]{}, Optional[OkStatus]{},
		Optional[ErrorStatus]{}, Optional[TimeoutStatus]{}, Optional[Toggle]{},
		Optional[Requirement]{}, Optional[WebSocketProtocol]{}, Optional[SSLVersion]{},
		Optional[ErrorAction]{},
	}
}

// unwrapOptional hands the validator the held value, or nil when unset so
// that omitempty skips the field.
func unwrapOptional(field reflect.Value) any {
	o, ok := field.Interface().(interface{ anyValue() (any, bool) })
	if !ok {
		return nil
	}
	v, set := o.anyValue()
	if !set {
		return nil
	}
	return v
}

func validateEnum(fl validator.FieldLevel) bool {
	e, ok := fl.Field().Interface().(enumValue)
	if !ok {
		return false
	}
	return e.IsValid()
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

func fieldError(fe validator.FieldError) FieldError {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	out := FieldError{
		Field: ns,
		Rule:  fe.Tag(),
		Param: fe.Param(),
		Value: fmt.Sprintf("%v", fe.Value()),
	}
	switch fe.Tag() {
	case "required":
		out.Message = fmt.Sprintf("%s is required", ns)
		out.Value = ""
	case "min":
		out.Message = fmt.Sprintf("%s must be at least %s", ns, fe.Param())
	case "max":
		out.Message = fmt.Sprintf("%s must be at most %s", ns, fe.Param())
	case "enum":
		out.Message = fmt.Sprintf("%s has invalid value %q", ns, out.Value)
	case "resname":
		out.Message = fmt.Sprintf("%s %q may only contain letters, digits and _ . : -", ns, out.Value)
	default:
		out.Message = fmt.Sprintf("%s failed %s validation", ns, fe.Tag())
	}
	return out
}
