// Package auth is the bundled identity provider: password accounts stored
// with gorm and bearer JWTs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/basit/fileshare-workspaces/apperrors"
	"github.com/basit/fileshare-workspaces/models"
	"github.com/basit/fileshare-workspaces/services"
)

const MinPasswordLength = 6

type Provider struct {
	db     *gorm.DB
	tokens *TokenManager
	log    logrus.FieldLogger
}

func NewProvider(db *gorm.DB, tokens *TokenManager, log logrus.FieldLogger) *Provider {
	return &Provider{db: db, tokens: tokens, log: log}
}

type Session struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Verify resolves a bearer access token to a user id.
func (p *Provider) Verify(_ context.Context, credential string) (uuid.UUID, error) {
	userID, err := p.tokens.ValidateToken(credential, accessTokenType)
	if errors.Is(err, ErrExpiredToken) {
		return uuid.Nil, apperrors.Unauthorized("token has expired")
	}
	if err != nil {
		return uuid.Nil, apperrors.Unauthorized("invalid token")
	}
	return userID, nil
}

func (p *Provider) ResolveEmail(ctx context.Context, email string) (uuid.UUID, error) {
	var u models.User
	err := p.db.WithContext(ctx).Select("id").Where("email = ?", normalizeEmail(email)).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, apperrors.NotFound("no user registered with that email")
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve email: %w", err)
	}
	return u.ID, nil
}

func (p *Provider) Profiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]services.Profile, error) {
	out := make(map[uuid.UUID]services.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := p.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		out[u.ID] = services.Profile{Name: u.Name, Email: u.Email}
	}
	return out, nil
}

func (p *Provider) Register(ctx context.Context, name, email, password string) (*Session, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" {
		return nil, apperrors.Validation("name and email are required")
	}
	if len(password) < MinPasswordLength {
		return nil, apperrors.Validation("password must be at least %d characters", MinPasswordLength)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &models.User{Name: name, Email: email, PasswordHash: hash}
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if taken, err := emailTaken(tx, email, uuid.Nil); err != nil {
			return err
		} else if taken {
			return apperrors.Conflict("user already exists")
		}
		if err := tx.Create(u).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.WithField("user_id", u.ID).Info("user registered")
	return p.session(u)
}

func (p *Provider) Login(ctx context.Context, email, password string) (*Session, error) {
	var u models.User
	err := p.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Unauthorized("invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, apperrors.Unauthorized("invalid credentials")
	}
	return p.session(&u)
}

// Refresh exchanges a refresh token for a new token pair.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	userID, err := p.tokens.ValidateToken(refreshToken, refreshTokenType)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid refresh token")
	}
	u, err := p.Me(ctx, userID)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return nil, apperrors.Unauthorized("invalid refresh token")
		}
		return nil, err
	}
	return p.session(u)
}

func (p *Provider) session(u *models.User) (*Session, error) {
	access, refresh, err := p.tokens.GenerateTokens(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, AccessToken: access, RefreshToken: refresh}, nil
}

func (p *Provider) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var u models.User
	err := p.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

type ProfileUpdate struct {
	Name     *string
	Email    *string
	Password *string
}

func (p *Provider) UpdateMe(ctx context.Context, userID uuid.UUID, in ProfileUpdate) (*models.User, error) {
	updates := map[string]interface{}{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperrors.Validation("name cannot be empty")
		}
		updates["name"] = name
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if email == "" {
			return nil, apperrors.Validation("email cannot be empty")
		}
		updates["email"] = email
	}
	if in.Password != nil {
		if len(*in.Password) < MinPasswordLength {
			return nil, apperrors.Validation("password must be at least %d characters", MinPasswordLength)
		}
		hash, err := HashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
	}
	if len(updates) == 0 {
		return nil, apperrors.Validation("nothing to update")
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if email, ok := updates["email"].(string); ok {
			taken, err := emailTaken(tx, email, userID)
			if err != nil {
				return err
			}
			if taken {
				return apperrors.Conflict("email already in use")
			}
		}
		res := tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("user not found")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.Me(ctx, userID)
}

func emailTaken(tx *gorm.DB, email string, except uuid.UUID) (bool, error) {
	var n int64
	if err := tx.Model(&models.User{}).Where("email = ? AND id <> ?", email, except).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return n > 0, nil
}
