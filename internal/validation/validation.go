// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"net/mail"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// MinPasswordLength задаёт минимальную длину пароля.
const MinPasswordLength = 6

var (
	// ErrInvalidEmail возвращается для пустого или некорректного email.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrWeakPassword возвращается для слишком короткого пароля.
	ErrWeakPassword = errors.New("password is too short")
	// ErrInvalidAmount возвращается для неположительной суммы или суммы точнее копеек.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrEmptyField возвращается, если обязательное поле не заполнено.
	ErrEmptyField = errors.New("required field is empty")
)

// NormalizeEmail приводит email к нижнему регистру и проверяет формат.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Password проверяет длину пароля.
func Password(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// Amount проверяет, что сумма положительна и выражается целым числом копеек.
func Amount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrInvalidAmount
	}
	if !d.Equal(d.Round(2)) {
		return ErrInvalidAmount
	}
	return nil
}

// Required проверяет, что строка не пустая после обрезки пробелов.
func Required(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyField
	}
	return nil
}

// Slug строит URL-идентификатор из названия: латиница и цифры в нижнем регистре через дефис.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
