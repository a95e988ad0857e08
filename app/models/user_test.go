package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	u, err := CreateUser("Max Mustermann", "max@example.com", "secret123")
	require.NoError(t, err)

	assert.Equal(t, "Max Mustermann", u.Name)
	assert.Equal(t, "max@example.com", u.Email)
	assert.Equal(t, ROLE_USER, u.Role)
	assert.Equal(t, STATUS_INACTIVE, u.Status)
	assert.NotEqual(t, "secret123", u.Password)
	assert.True(t, CheckPasswordHash("secret123", u.Password))
	assert.False(t, CheckPasswordHash("wrong", u.Password))
}

func TestCreateUserValidation(t *testing.T) {
	_, err := CreateUser("ab", "max@example.com", "secret123")
	assert.Error(t, err, "name below minimum length must fail")

	_, err = CreateUser("Max", "not-an-email", "secret123")
	assert.Error(t, err)
}
