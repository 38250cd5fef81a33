package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PINCost is the bcrypt cost used for account PINs. Tests lower it.
var PINCost = bcrypt.DefaultCost

// HashPIN generates the bcrypt hash stored on the account row.
func HashPIN(pin string) (string, error) {
	if strings.TrimSpace(pin) == "" {
		return "", errors.New("pin must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), PINCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPIN compares a plain PIN with the stored hash. An empty hash never matches.
func CheckPIN(pin, hash string) bool {
	if hash == "" || pin == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
