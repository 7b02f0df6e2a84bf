package password

import (
	"errors"
	"strings"
	"unicode"
)

// MinLength is the minimum accepted password length
const MinLength = 8

// Symbols is the punctuation set that satisfies the symbol requirement
const Symbols = `!@#$%^&*(),.?":{}|<>`

var ErrPolicy = errors.New("password must be at least 8 characters long and contain at least one uppercase letter, one lowercase letter, one number, and one special character")

// IsValidPassword reports whether pw satisfies the complexity policy
func IsValidPassword(pw string) bool {
	if len([]rune(pw)) < MinLength {
		return false
	}

	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(Symbols, r):
			symbol = true
		}
	}

	return upper && lower && digit && symbol
}

// ValidatePolicy returns ErrPolicy when pw fails IsValidPassword
func ValidatePolicy(pw string) error {
	if !IsValidPassword(pw) {
		return ErrPolicy
	}
	return nil
}
