package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danmuck/spellctl/internal/testutil/testlog"
)

func TestStaticValidate(t *testing.T) {
	testlog.Start(t)
	users := Static{"ops": "s3cret", "blank": ""}
	tests := []struct {
		name     string
		user     string
		password string
		wantErr  error
	}{
		{name: "unknown user denied", user: "guest", password: "s3cret", wantErr: ErrUnauthorized},
		{name: "empty user denied", user: "", password: "", wantErr: ErrUnauthorized},
		{name: "wrong password denied", user: "ops", password: "nope", wantErr: ErrUnauthorized},
		{name: "matching password accepted", user: "ops", password: "s3cret"},
		{name: "empty password accepted when configured", user: "blank", password: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := users.Validate(tc.user, tc.password)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	locked := errors.New("locked")
	v := FuncValidator(func(username, _ string) error {
		if username == "root" {
			return locked
		}
		return nil
	})
	assert.ErrorIs(t, v.Validate("root", "x"), locked)
	assert.NoError(t, v.Validate("ops", "x"))
}
