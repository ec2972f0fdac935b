// Package basic decodes HTTP Basic credentials and implements the one-way password
// hash used for bus users and admins.
package basic

// This package is separate because it's referenced by backplane-db.

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const headerPrefix = "Basic "

var (
	// ErrMalformed means the header or the secret cannot be parsed.
	ErrMalformed = errors.New("malformed")
	// ErrHashMismatch means the secret does not match the hash.
	ErrHashMismatch = errors.New("hash mismatch")
)

func parseSecret(secret string) (uname, password string, err error) {
	if strings.Count(secret, ":") != 1 {
		err = ErrMalformed
		return
	}
	splitAt := strings.Index(secret, ":")
	uname = secret[:splitAt]
	password = secret[splitAt+1:]
	return
}

// ParseHeader extracts user name and password from an
// "Authorization: Basic <base64(user:password)>" header value.
func ParseHeader(header string) (uname, password string, err error) {
	if !strings.HasPrefix(header, headerPrefix) || len(header) <= len(headerPrefix) {
		return "", "", ErrMalformed
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(headerPrefix):]))
	if err != nil || !utf8.Valid(decoded) {
		return "", "", ErrMalformed
	}
	return parseSecret(string(decoded))
}

// Hash returns the one-way hash of the secret.
func Hash(secret string) (string, error) {
	passhash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(passhash), nil
}

// CheckHash verifies the secret against a hash produced by Hash.
func CheckHash(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrHashMismatch
	}
	return nil
}
