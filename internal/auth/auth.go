// Package auth checks the credentials a client presents at login.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates one username/password pair.
type Validator interface {
	Validate(username, password string) error
}

// Static accepts the users it lists, keyed by username.
type Static map[string]string

func (s Static) Validate(username, password string) error {
	want, ok := s[username]
	if username == "" || !ok {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(username, password string) error

func (f FuncValidator) Validate(username, password string) error {
	return f(username, password)
}
