package security

import (
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// PasswordValidationError is one policy violation, tagged with a stable code
// the transport can surface alongside the message.
type PasswordValidationError struct {
	Code    string
	Message string
}

func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordRule checks one aspect of the password policy.
type PasswordRule interface {
	Validate(password string) error
}

// PasswordRuleFunc adapts a plain function into a PasswordRule.
type PasswordRuleFunc func(password string) error

func (f PasswordRuleFunc) Validate(password string) error {
	return f(password)
}

// PasswordValidator runs rules in registration order and stops at the first
// violation.
type PasswordValidator struct {
	rules []PasswordRule
}

// NewPasswordValidator builds a validator over the given rules.
func NewPasswordValidator(rules ...PasswordRule) *PasswordValidator {
	return &PasswordValidator{rules: append([]PasswordRule(nil), rules...)}
}

// Validate returns the first violation, or nil when every rule passes.
func (v *PasswordValidator) Validate(password string) error {
	if v == nil {
		return fmt.Errorf("password validator not configured")
	}
	for _, rule := range v.rules {
		if err := rule.Validate(password); err != nil {
			return err
		}
	}
	return nil
}

// MinLengthRule requires at least min characters, counted in runes.
func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if len([]rune(password)) < min {
			return &PasswordValidationError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	})
}

// RequireCharacterClassesRule requires characters from at least min of the
// four classes: upper, lower, digit, symbol.
func RequireCharacterClassesRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if min <= 0 {
			return nil
		}

		var classes [4]bool
		for _, r := range password {
			switch {
			case unicode.IsUpper(r):
				classes[0] = true
			case unicode.IsLower(r):
				classes[1] = true
			case unicode.IsDigit(r):
				classes[2] = true
			case unicode.IsSymbol(r) || unicode.IsPunct(r):
				classes[3] = true
			}
		}

		count := 0
		for _, present := range classes {
			if present {
				count++
			}
		}
		if count < min {
			return &PasswordValidationError{
				Code:    "character_classes",
				Message: fmt.Sprintf("password must mix at least %d character types", min),
			}
		}
		return nil
	})
}

// RequireDigitRule requires at least one decimal digit.
func RequireDigitRule() PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if strings.ContainsFunc(password, unicode.IsDigit) {
			return nil
		}
		return &PasswordValidationError{
			Code:    "digit",
			Message: "password must include at least one digit",
		}
	})
}

// RequireDifferentFrom rejects a password equal to the comparator, typically
// the value being replaced.
func RequireDifferentFrom(comparator string) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if password == comparator {
			return &PasswordValidationError{
				Code:    "different",
				Message: "new password must differ from the current one",
			}
		}
		return nil
	})
}

// RequirePasswordStrengthRule rejects passwords scoring below minScore on the
// zxcvbn scale of 0 through 4. userInputs lists values the estimator should
// treat as guessable, such as the account email.
func RequirePasswordStrengthRule(minScore int, userInputs ...string) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if minScore <= 0 {
			return nil
		}
		if minScore > 4 {
			minScore = 4
		}

		if zxcvbn.PasswordStrength(password, userInputs).Score >= minScore {
			return nil
		}
		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "password is too weak; choose a less guessable value",
		}
	})
}
