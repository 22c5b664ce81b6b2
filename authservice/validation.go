package authservice

import (
	"regexp"
	"strings"
	"unicode/utf8"

	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
)

const (
	MinPasswordLength = 8
	MinUsernameLength = 3
	OTPLength         = 6
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationError is a pre-flight rejection. No request was sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is matches ErrInvalidInput so callers can branch without the concrete type.
func (e *ValidationError) Is(target error) bool {
	return target == clienterrors.ErrInvalidInput
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// RegisterForm is the sign-up input, including the confirmation field the API never sees.
type RegisterForm struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Validator checks input before it goes over the network. Rules are checked
// in order and the first failure is reported.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) ValidateRegistration(form RegisterForm) error {
	if form.Password != form.ConfirmPassword {
		return invalid("confirmPassword", "Passwords do not match")
	}
	if utf8.RuneCountInString(form.Password) < MinPasswordLength {
		return invalid("password", "Password must be at least 8 characters")
	}
	if utf8.RuneCountInString(form.Username) < MinUsernameLength {
		return invalid("username", "Username must be at least 3 characters")
	}
	if !usernamePattern.MatchString(form.Username) {
		return invalid("username", "Username can only contain letters, numbers, underscore and hyphen")
	}
	if strings.TrimSpace(form.Email) == "" {
		return invalid("email", "Email is required")
	}
	return nil
}

func (v *Validator) ValidateLogin(account, password string) error {
	if strings.TrimSpace(account) == "" {
		return invalid("account", "Username or email is required")
	}
	if password == "" {
		return invalid("password", "Password is required")
	}
	return nil
}

func (v *Validator) ValidateOTP(otp string) error {
	if utf8.RuneCountInString(otp) != OTPLength {
		return invalid("otp", "OTP must be 6 digits")
	}
	for _, r := range otp {
		if r < '0' || r > '9' {
			return invalid("otp", "OTP must contain only numbers")
		}
	}
	return nil
}

func (v *Validator) ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return invalid("email", "Email is required")
	}
	return nil
}
