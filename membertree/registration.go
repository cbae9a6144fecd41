package membertree

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

const maxCodeLength = 64

var memberCodeRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var registrationValidate *validator.Validate

func init() {
	registrationValidate = validator.New()
	registrationValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = registrationValidate.RegisterValidation("membercode", validateMemberCode)
}

func validateMemberCode(fl validator.FieldLevel) bool {
	return memberCodeRegex.MatchString(fl.Field().String())
}

// Registration is the input to PlaceMember.
type Registration struct {
	Code              string   `json:"member_code" validate:"required,max=64,membercode"`
	Name              string   `json:"name" validate:"required,max=128"`
	Email             string   `json:"email" validate:"required,max=254,email"`
	SponsorCode       string   `json:"sponsor_code" validate:"omitempty,max=64,membercode"`
	PreferredPosition Position `json:"position" validate:"omitempty,oneof=left right"`
}

// Normalize trims surrounding whitespace from every field. Names are also put in NFC form so
// that visually identical names compare equal.
func (r *Registration) Normalize() {
	r.Code = strings.TrimSpace(r.Code)
	r.Name = norm.NFC.String(strings.TrimSpace(r.Name))
	r.Email = strings.TrimSpace(r.Email)
	r.SponsorCode = strings.TrimSpace(r.SponsorCode)
	r.PreferredPosition = Position(strings.ToLower(strings.TrimSpace(string(r.PreferredPosition))))
}

// Validate checks field syntax only. It never consults the store.
func (r *Registration) Validate() error {
	err := registrationValidate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "membercode":
		return field + " may only contain letters, digits, '-' and '_'"
	case "email":
		return field + " is not a valid email address"
	case "oneof":
		return field + " must be left or right"
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

// ValidateCode checks a bare member or sponsor code, as used by lookups.
func ValidateCode(code string) error {
	if code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	if len(code) > maxCodeLength || !memberCodeRegex.MatchString(code) {
		return fmt.Errorf("%w: malformed code %q", ErrInvalidInput, code)
	}
	return nil
}
