package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"skylearn_backend/internal/appErrors"
	"skylearn_backend/internal/models"
)

func newAuthFixture(t *testing.T) (AuthService, *models.User) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		Email:        "admin@example.com",
		PasswordHash: string(hash),
		Role:         models.UserRoleAdmin,
		Status:       models.UserStatusActive,
	}
	return NewAuthService(newFakeUserRepo(user), "test-secret", time.Hour), user
}

func TestAuth_LoginAndParseToken(t *testing.T) {
	t.Parallel()
	svc, user := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "admin@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, user.ID, resp.User.ID)

	claims, err := svc.ParseToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.UserRoleAdmin, claims.Role)
}

func TestAuth_WrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	t.Parallel()
	svc, _ := newAuthFixture(t)

	_, wrongPw := errFromLogin(svc, "admin@example.com", "nope")
	_, unknown := errFromLogin(svc, "ghost@example.com", "nope")

	// Both must report the same code so emails cannot be probed.
	assert.Equal(t, appErrors.CodeInvalidCredentials, wrongPw)
	assert.Equal(t, appErrors.CodeInvalidCredentials, unknown)
}

func TestAuth_SuspendedUserForbidden(t *testing.T) {
	t.Parallel()
	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	user := &models.User{
		Email:        "banned@example.com",
		PasswordHash: string(hash),
		Role:         models.UserRoleMember,
		Status:       models.UserStatusSuspended,
	}
	svc := NewAuthService(newFakeUserRepo(user), "test-secret", time.Hour)

	_, code := errFromLogin(svc, "banned@example.com", "pw")
	assert.Equal(t, appErrors.CodeForbidden, code)
}

func TestAuth_ParseTokenRejectsGarbageAndWrongKey(t *testing.T) {
	t.Parallel()
	svc, _ := newAuthFixture(t)

	_, err := svc.ParseToken("not.a.token")
	assertCode(t, err, appErrors.CodeInvalidToken)

	// A token signed under a different secret must not parse.
	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	user := &models.User{Email: "a@b.com", PasswordHash: string(hash), Status: models.UserStatusActive}
	foreign := NewAuthService(newFakeUserRepo(user), "other-secret", time.Hour)
	resp, loginErr := foreign.Login(context.Background(), &LoginRequest{Email: "a@b.com", Password: "pw"})
	require.NoError(t, loginErr)

	_, err = svc.ParseToken(resp.Token)
	assertCode(t, err, appErrors.CodeInvalidToken)
}

func errFromLogin(svc AuthService, email, password string) (*LoginResponse, appErrors.ErrorCode) {
	resp, err := svc.Login(context.Background(), &LoginRequest{Email: email, Password: password})
	if err == nil {
		return resp, ""
	}
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return resp, appErr.Code
	}
	return resp, appErrors.CodeInternalError
}

func assertCode(t *testing.T, err error, code appErrors.ErrorCode) {
	t.Helper()
	var appErr *appErrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, code, appErr.Code)
}
