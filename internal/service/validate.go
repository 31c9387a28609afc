package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/accounts/internal/apperror"
)

// Field limits of the users table.
const (
	MaxUsernameLength = 150
	MaxNameLength     = 150
	MaxEmailLength    = 254
)

// Field error messages shared by every operation.
const (
	msgRequired            = "This field is required."
	msgInvalidUsername     = "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	msgUsernameTaken       = "A user with that username already exists."
	msgInvalidEmail        = "Enter a valid email address."
	msgEmailTaken          = "A user with that email already exists."
	msgPasswordMismatch    = "Password fields didn't match."
	msgNewPasswordMismatch = "The two new password fields didn't match."
	msgWrongOldPassword    = "Old password is not correct."
	msgInvalidValue        = "Enter a valid value."
)

// Rules for fields validated one at a time (profile updates only touch the
// fields that were sent). They match the struct tags on RegisterInput.
const (
	ruleEmail = "omitempty,max=254,email"
	ruleName  = "max=150"
)

// validate is safe for concurrent use and caches struct metadata, so one
// instance serves the whole process.
var validate = newValidator()

// newValidator reports fields under their json names ("first_name", not
// "FirstName") and knows the "username" rule.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("username", isUsername); err != nil {
		panic(err)
	}
	return v
}

// isUsername allows letters, digits and @ . + - _ (Unicode letters included).
func isUsername(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) && !strings.ContainsRune("@.+-_", r) {
			return false
		}
	}
	return true
}

func maxLengthMessage(n string) string {
	return fmt.Sprintf("Ensure this field has no more than %s characters.", n)
}

// messageFor turns one failed rule into the message a client sees.
func messageFor(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return msgRequired
	case "max":
		return maxLengthMessage(e.Param())
	case "email":
		return msgInvalidEmail
	case "username":
		return msgInvalidUsername
	default:
		return msgInvalidValue
	}
}

// checkStruct runs the validate tags of s and records every failure on fe.
// validator stops at the first failing rule of a field, so each field gets
// at most one format message. The error is non-nil only when s is not a
// struct.
func checkStruct(fe *apperror.FieldErrors, s any) error {
	err := validate.Struct(s)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			fe.Add(e.Field(), messageFor(e))
		}
		return nil
	}
	return err
}

// checkField validates a single value against rule and records failures on
// fe under field. It reports whether value passed.
func checkField(fe *apperror.FieldErrors, field, value, rule string) bool {
	err := validate.Var(value, rule)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err == nil
	}
	for _, e := range verrs {
		fe.Add(field, messageFor(e))
	}
	return false
}
