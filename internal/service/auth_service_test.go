package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail         *models.User
	userByID            *models.User
	findByEmailErr      error
	findByIDErr         error
	refreshTokens       map[string]*models.RefreshToken
	refreshTokenErr     error
	createRefreshErr    error
	revokeRefreshErr    error
	revokeUserTokensErr error
	updatePasswordErr   error
	lastLoginUpdated    bool
	revokedUsers        []string
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	if m.userByID != nil {
		return m.userByID, nil
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.updatePasswordErr != nil {
		return m.updatePasswordErr
	}
	if m.userByEmail != nil && m.userByEmail.ID == id {
		m.userByEmail.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	if m.revokeUserTokensErr != nil {
		return m.revokeUserTokensErr
	}
	m.revokedUsers = append(m.revokedUsers, userID)
	for _, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if m.refreshTokenErr != nil {
		return nil, m.refreshTokenErr
	}
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, errors.New("not found")
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	if m.revokeRefreshErr != nil {
		return m.revokeRefreshErr
	}
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

type profileMap map[string]*models.Profile

func (p profileMap) Get(ctx context.Context, id string) (*models.Profile, error) {
	if prof, ok := p[id]; ok {
		return prof, nil
	}
	return nil, docstore.ErrNotFound
}

var testAuthConfig = AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, RefreshTokenExpiry: 24 * time.Hour}

func newTestAuth(repo *mockAuthRepo, profiles profileReader) (*AuthService, *memAudit) {
	audit := &memAudit{}
	return NewAuthService(repo, profiles, audit, validator.New(), zap.NewNop(), testAuthConfig), audit
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", FullName: "Ana Putri", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleStudent}}
	class, avatar := "XI IPA 2", "https://cdn.example.com/ana.png"
	svc, audit := newTestAuth(repo, profileMap{"123": {ID: "123", DisplayName: "Ana", ClassName: &class, AvatarURL: &avatar}})

	res, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "user@example.com", Password: "password",
		ClientInfo: models.ClientInfo{IP: "10.1.2.3", UserAgent: "portal-web"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.True(t, repo.lastLoginUpdated)
	assert.Equal(t, "Ana", res.User.DisplayName)
	assert.Equal(t, "Ana Putri", res.User.FullName)
	require.NotNil(t, res.User.ClassName)
	assert.Equal(t, class, *res.User.ClassName)
	assert.Equal(t, &avatar, res.User.AvatarURL)

	stored := repo.refreshTokens[res.RefreshToken]
	require.NotNil(t, stored)
	assert.Equal(t, "10.1.2.3", stored.IPAddress)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Ana", claims.DisplayName)
	assert.Equal(t, class, claims.ClassName)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	assert.Equal(t, models.AuditLogin, entry.Action)
	assert.Equal(t, models.AuditResourceSession, entry.Resource)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "123", *entry.UserID)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, stored.ID, *entry.ResourceID)
	assert.Equal(t, "10.1.2.3", entry.IPAddress)
	assert.Equal(t, "portal-web", entry.UserAgent)
}

func TestAuthServiceLoginWithoutProfileUsesAccountName(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", FullName: "Budi", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleMonitor}}
	svc, _ := newTestAuth(repo, profileMap{})

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.Equal(t, "Budi", res.User.DisplayName)
	assert.Nil(t, res.User.ClassName)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: false}}
	svc, audit := newTestAuth(repo, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
	assert.Equal(t, []models.AuditAction{models.AuditLoginFailed}, audit.actions())
}

func TestAuthServiceLoginFailuresAreAudited(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: true}}
	svc, audit := newTestAuth(repo, nil)
	client := models.ClientInfo{IP: "203.0.113.9"}

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong", ClientInfo: client})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)

	repo.findByEmailErr = sql.ErrNoRows
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.com", Password: "x", ClientInfo: client})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)

	require.Len(t, audit.entries, 2)
	require.NotNil(t, audit.entries[0].UserID)
	assert.JSONEq(t, `{"email":"user@example.com","reason":"bad_password"}`, string(audit.entries[0].Details))
	assert.Nil(t, audit.entries[1].UserID)
	assert.JSONEq(t, `{"email":"ghost@example.com","reason":"unknown_account"}`, string(audit.entries[1].Details))
	assert.Equal(t, "203.0.113.9", audit.entries[1].IPAddress)
	assert.Empty(t, repo.refreshTokens)
}

func TestAuthServiceRefreshToken(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: make(map[string]*models.RefreshToken)}
	user := &models.User{ID: "u1", Email: "user@example.com", FullName: "Citra", PasswordHash: "hash", Active: true, Role: models.RoleAdmin}
	repo.userByEmail = user
	repo.userByID = user
	token := &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "token", ExpiresAt: time.Now().Add(time.Hour)}
	repo.refreshTokens[token.Token] = token

	svc, audit := newTestAuth(repo, nil)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.Equal(t, "Citra", res.User.DisplayName)
	assert.True(t, repo.refreshTokens["token"].Revoked)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditTokenRefresh, audit.entries[0].Action)
	assert.JSONEq(t, `{"previous_session":"rt1"}`, string(audit.entries[0].Details))
}

func TestAuthServiceChangePassword(t *testing.T) {
	oldHash := hashed(t, "old")
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", PasswordHash: oldHash, Active: true}}
	svc, audit := newTestAuth(repo, nil)

	err := svc.ChangePassword(context.Background(), claims("u1", models.RoleStudent), models.ChangePasswordRequest{OldPassword: "old", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, repo.userByEmail.PasswordHash)
	assert.Equal(t, []string{"u1"}, repo.revokedUsers)
	assert.Equal(t, []models.AuditAction{models.AuditPasswordChange}, audit.actions())
}

func TestValidateToken(t *testing.T) {
	svc, _ := newTestAuth(&mockAuthRepo{}, nil)
	member := models.SessionUser{ID: "u1", Email: "user@example.com", Role: models.RoleAdmin}
	token, _, err := svc.generateAccessToken(member, time.Now().UTC())
	require.NoError(t, err)

	parsed, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, member.ID, parsed.UserID)

	other := NewAuthService(&mockAuthRepo{}, nil, nil, nil, nil, AuthConfig{AccessTokenSecret: "other", AccessTokenExpiry: time.Hour})
	_, err = other.ValidateToken(token)
	require.Error(t, err)
}

func TestAuthServiceLogoutRejectsForeignToken(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: map[string]*models.RefreshToken{
		"token": {ID: "rt1", UserID: "owner", Token: "token", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc, audit := newTestAuth(repo, nil)

	err := svc.Logout(context.Background(), claims("someone-else", models.RoleStudent), models.LogoutRequest{RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.refreshTokens["token"].Revoked)
	assert.Empty(t, audit.entries)

	err = svc.Logout(context.Background(), claims("owner", models.RoleStudent), models.LogoutRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.True(t, repo.refreshTokens["token"].Revoked)
	assert.Equal(t, []models.AuditAction{models.AuditLogout}, audit.actions())
}

func TestAuthServiceRefreshRejectsRevoked(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: map[string]*models.RefreshToken{
		"token": {ID: "rt1", UserID: "u1", Token: "token", Revoked: true, ExpiresAt: time.Now().Add(time.Hour)},
		"live":  {ID: "rt2", UserID: "u1", Token: "live", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc, audit := newTestAuth(repo, nil)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	assert.True(t, repo.refreshTokens["live"].Revoked, "replaying a rotated token ends the owner's other sessions")
	assert.Equal(t, []models.AuditAction{models.AuditTokenReuse}, audit.actions())
}

func TestAuthServiceRefreshRejectsExpired(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: map[string]*models.RefreshToken{
		"token": {ID: "rt1", UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(-time.Minute)},
	}}
	svc, _ := newTestAuth(repo, nil)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.revokedUsers)
}
