package incidents

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"incident-desk/core/rules"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateInput(in CreateInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if err := validate.Struct(in); err != nil {
		return toViolation(err, "")
	}
	return nil
}

var patchRules = []struct {
	field string
	rule  string
	value func(Patch) *string
}{
	{"title", "required,max=255", func(p Patch) *string { return p.Title }},
	{"status_code", "required,oneof=N I C", func(p Patch) *string { return p.StatusCode }},
	{"urgency_code", "omitempty,oneof=L M H", func(p Patch) *string { return p.UrgencyCode }},
	{"customer_id", "omitempty,max=64", func(p Patch) *string { return p.CustomerID }},
}

func validatePatch(p Patch) error {
	if p.empty() {
		return rules.Validation("", "no fields to update")
	}
	for _, r := range patchRules {
		val := r.value(p)
		if val == nil {
			continue
		}
		if err := validate.Var(strings.TrimSpace(*val), r.rule); err != nil {
			return toViolation(err, r.field)
		}
	}
	return nil
}

func toViolation(err error, field string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return rules.Validation(field, err.Error())
	}
	fe := verrs[0]
	name := field
	if name == "" {
		name = fe.Field()
	}
	return rules.Validation(name, describe(name, fe))
}

func describe(name string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", name)
	}
}
