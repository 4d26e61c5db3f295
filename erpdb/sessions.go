package erpdb

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/ideiasys/ecomsync_backend/utils"
)

const (
	sessionApplication = "IdeiaERP Commerce Sync"
	sessionVersion     = "1.0.0"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotPrivileged      = errors.New("user does not have access privileges")
)

// SessionInfo is what a successful login or refresh hands back.
type SessionInfo struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	UserId       int       `json:"usuario_id"`
	UserName     string    `json:"nome"`
	UserEmail    string    `json:"email"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Sessions manages operator login sessions. Session rows live in the
// ERP database itself (usuariosessaotoken), so sessions survive our own
// restarts and are visible to the ERP. Expiry is lazy: expired rows are
// removed when a validation touches them.
type Sessions struct {
	provider   *Provider
	logger     *logrus.Logger
	tokenTTL   time.Duration
	refreshTTL time.Duration
}

func NewSessions(provider *Provider, log *logrus.Logger) *Sessions {
	return &Sessions{
		provider:   provider,
		logger:     log,
		tokenTTL:   time.Duration(utils.IntFromEnv("TOKEN_EXPIRATION_MINUTES", 360)) * time.Minute,
		refreshTTL: time.Duration(utils.IntFromEnv("REFRESH_TOKEN_EXPIRATION_DAYS", 7)) * 24 * time.Hour,
	}
}

// Authenticate checks email and password against the ERP user table.
// Only privileged, non-deleted users may log in. Legacy ERP installs
// store plaintext passwords while newer ones store bcrypt hashes, so
// both forms are accepted.
func (s *Sessions) Authenticate(ctx context.Context, email string, password string) (*User, error) {
	db, err := s.provider.DB(ctx)
	if err != nil {
		return nil, err
	}

	var user User
	err = db.WithContext(ctx).
		Where("email = ?", email).
		Where("flagexcluido = 0").
		Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.Password == nil || !passwordMatches(*user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	if user.Privileged != 1 {
		return nil, ErrNotPrivileged
	}
	return &user, nil
}

func passwordMatches(stored string, given string) bool {
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return utils.ComparePassword(stored, given) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

// CreateSession issues an access token and a refresh token for the
// user. The token value is the row's own primary key.
func (s *Sessions) CreateSession(ctx context.Context, user *User, machine string) (*SessionInfo, error) {
	db, err := s.provider.DB(ctx)
	if err != nil {
		return nil, err
	}

	if len(machine) > 100 {
		machine = machine[:100]
	}

	now := time.Now()
	userId := utils.IntToString(user.Id)
	app, version := sessionApplication, sessionVersion
	rows := []SessionToken{
		{
			Id:          uuid.NewString(),
			UserId:      &userId,
			Application: &app,
			Version:     &version,
			Login:       user.Email,
			Machine:     &machine,
			LoginAt:     &now,
			WebService:  1,
			Persistent:  0,
		},
		{
			Id:          uuid.NewString(),
			UserId:      &userId,
			Application: &app,
			Version:     &version,
			Login:       user.Email,
			Machine:     &machine,
			LoginAt:     &now,
			WebService:  1,
			Persistent:  1,
		},
	}
	if err := db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"module":     "erpdb",
		"usuario_id": user.Id,
	}).Info("session created")

	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	return &SessionInfo{
		Token:        rows[0].Id,
		RefreshToken: rows[1].Id,
		UserId:       user.Id,
		UserName:     user.Name,
		UserEmail:    email,
		ExpiresAt:    now.Add(s.tokenTTL),
	}, nil
}

// ValidateToken resolves an access token to its user. Expired tokens
// are deleted on the spot and reported as invalid.
func (s *Sessions) ValidateToken(ctx context.Context, token string) (*User, error) {
	db, err := s.provider.DB(ctx)
	if err != nil {
		return nil, err
	}

	var row SessionToken
	err = db.WithContext(ctx).
		Where("usuariosessaotoken_id = ?", token).
		Where("flagpersistente = 0").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if row.LoginAt != nil && time.Now().After(row.LoginAt.Add(s.tokenTTL)) {
		db.WithContext(ctx).Delete(&SessionToken{}, "usuariosessaotoken_id = ?", row.Id)
		return nil, ErrInvalidCredentials
	}

	return s.userForSession(ctx, db, &row)
}

// RefreshSession trades a valid refresh token for a fresh token pair.
// The old pair is revoked first.
func (s *Sessions) RefreshSession(ctx context.Context, refreshToken string, machine string) (*SessionInfo, error) {
	db, err := s.provider.DB(ctx)
	if err != nil {
		return nil, err
	}

	var row SessionToken
	err = db.WithContext(ctx).
		Where("usuariosessaotoken_id = ?", refreshToken).
		Where("flagpersistente = 1").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if row.LoginAt != nil && time.Now().After(row.LoginAt.Add(s.refreshTTL)) {
		db.WithContext(ctx).Delete(&SessionToken{}, "usuariosessaotoken_id = ?", row.Id)
		return nil, ErrInvalidCredentials
	}

	user, err := s.userForSession(ctx, db, &row)
	if err != nil {
		return nil, err
	}

	if row.UserId != nil {
		db.WithContext(ctx).
			Where("usuario_id = ?", *row.UserId).
			Where("flagpersistente = 0").
			Delete(&SessionToken{})
	}
	db.WithContext(ctx).Delete(&SessionToken{}, "usuariosessaotoken_id = ?", row.Id)

	return s.CreateSession(ctx, user, machine)
}

// RevokeToken removes a token, and for access tokens also the paired
// refresh token. Returns false when the token was not found.
func (s *Sessions) RevokeToken(ctx context.Context, token string) (bool, error) {
	db, err := s.provider.DB(ctx)
	if err != nil {
		return false, err
	}

	var row SessionToken
	err = db.WithContext(ctx).
		Where("usuariosessaotoken_id = ?", token).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	if row.Persistent == 0 && row.UserId != nil {
		db.WithContext(ctx).
			Where("usuario_id = ?", *row.UserId).
			Where("flagpersistente = 1").
			Delete(&SessionToken{})
	}
	if err := db.WithContext(ctx).Delete(&SessionToken{}, "usuariosessaotoken_id = ?", row.Id).Error; err != nil {
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"module": "erpdb",
		"token":  token[:min(8, len(token))] + "...",
	}).Info("session revoked")
	return true, nil
}

func (s *Sessions) userForSession(ctx context.Context, db *gorm.DB, row *SessionToken) (*User, error) {
	if row.UserId == nil || *row.UserId == "" {
		return nil, ErrInvalidCredentials
	}
	userId, err := utils.StringToInt(*row.UserId)
	if err != nil || userId == 0 {
		return nil, ErrInvalidCredentials
	}

	var user User
	err = db.WithContext(ctx).
		Where("usuario_id = ?", userId).
		Where("flagexcluido = 0").
		Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return &user, nil
}
