package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WillianCassan/chatbot-with-rag/internal/util"
	"github.com/WillianCassan/chatbot-with-rag/pkg/auth"
	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
	"github.com/WillianCassan/chatbot-with-rag/pkg/store"
)

// Token is the result of a successful login.
type Token struct {
	AccessToken string
	TokenType   string
	Username    string
}

// RegisterRequest describes a new admin account.
type RegisterRequest struct {
	CPF         string
	Password    string
	Responsible string
}

// Login exchanges CPF and password for an access token. Malformed input is
// rejected before any account lookup.
func (a *App) Login(ctx context.Context, cpf, password string) (Token, error) {
	logger := util.LoggerFromContext(ctx)
	if strings.TrimSpace(cpf) == "" || strings.TrimSpace(password) == "" {
		return Token{}, ErrInvalidData
	}
	if err := auth.ValidatePassword(password); err != nil {
		return Token{}, ErrInvalidData
	}
	if !auth.ValidCPF(cpf) {
		return Token{}, ErrInvalidData
	}
	normalized := auth.NormalizeCPF(cpf)
	user, ok, err := a.users.GetUserByCPF(ctx, normalized)
	if err != nil {
		return Token{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		logger.Warn("login failed", "reason", "unknown cpf")
		return Token{}, ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		logger.Warn("login failed", "reason", "wrong password", "user_id", user.ID)
		return Token{}, ErrInvalidCredentials
	}
	access, err := a.tokens.Issue(user.CPF)
	if err != nil {
		return Token{}, err
	}
	logger.Info("login succeeded", "user_id", user.ID)
	return Token{AccessToken: access, TokenType: "Bearer", Username: user.Responsible}, nil
}

// Authenticate resolves a bearer token to its account. Every failure is
// reported as auth.ErrInvalidToken except store errors.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, error) {
	cpf, err := a.tokens.Verify(token)
	if err != nil {
		return domain.User{}, err
	}
	user, ok, err := a.users.GetUserByCPF(ctx, cpf)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, auth.ErrInvalidToken
	}
	return user, nil
}

// RegistrationOpen reports whether an unauthenticated caller may register,
// which is only the case before the first account exists.
func (a *App) RegistrationOpen(ctx context.Context) (bool, error) {
	count, err := a.users.UserCount(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// Register creates an admin account. Unauthenticated callers are only
// accepted while no account exists.
func (a *App) Register(ctx context.Context, req RegisterRequest, authenticated bool) (domain.User, error) {
	if !authenticated {
		open, err := a.RegistrationOpen(ctx)
		if err != nil {
			return domain.User{}, fmt.Errorf("count users: %w", err)
		}
		if !open {
			return domain.User{}, ErrRegistrationClosed
		}
	}
	responsible := strings.TrimSpace(req.Responsible)
	if !auth.ValidCPF(req.CPF) || responsible == "" {
		return domain.User{}, ErrInvalidRegistration
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		return domain.User{}, err
	}
	cpf := auth.NormalizeCPF(req.CPF)
	if _, exists, err := a.users.GetUserByCPF(ctx, cpf); err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	} else if exists {
		return domain.User{}, ErrUserExists
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:           util.NewID(),
		CPF:          cpf,
		PasswordHash: hash,
		Responsible:  responsible,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.users.InsertUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, ErrUserExists
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	util.LoggerFromContext(ctx).Info("admin registered", "user_id", user.ID)
	return user, nil
}
