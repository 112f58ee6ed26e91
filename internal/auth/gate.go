package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/amoylab/msgate/internal/auth/jwt"
	"github.com/amoylab/msgate/internal/auth/storage"
	"github.com/amoylab/msgate/internal/common/cnst"
)

// Principal is the identity attached to an authenticated request or channel
type Principal struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// Gate verifies operator credentials and issues bearer tokens
type Gate struct {
	logger    *zap.Logger
	store     storage.Store
	tokens    *jwt.Service
	dummyHash []byte
}

// NewGate builds a gate over a user store and a token service
func NewGate(logger *zap.Logger, store storage.Store, tokens *jwt.Service) (*Gate, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("msgate-unknown-user"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("preparing dummy hash: %w", err)
	}
	return &Gate{
		logger:    logger.Named("auth"),
		store:     store,
		tokens:    tokens,
		dummyHash: dummy,
	}, nil
}

// IssueToken checks username and password and returns a signed token.
// Unknown users and wrong passwords both yield cnst.ErrInvalidCredentials
// after the same bcrypt work.
func (g *Gate) IssueToken(ctx context.Context, username, password string) (string, *Principal, error) {
	user, err := g.store.GetUser(ctx, username)
	if err != nil {
		if !errors.Is(err, cnst.ErrUserNotFound) {
			return "", nil, fmt.Errorf("loading user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(g.dummyHash, []byte(password))
		g.logger.Info("login rejected", zap.String("username", username), zap.String("reason", "unknown user"))
		return "", nil, cnst.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		g.logger.Info("login rejected", zap.String("username", username), zap.String("reason", "bad password"))
		return "", nil, cnst.ErrInvalidCredentials
	}

	token, err := g.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}
	g.logger.Info("login succeeded", zap.String("username", user.Username))
	return token, &Principal{ID: user.ID, Username: user.Username}, nil
}

// Verify checks signature and expiry and returns the token's principal.
// Errors are jwt.ErrInvalidToken or jwt.ErrExpiredToken.
func (g *Gate) Verify(token string) (*Principal, error) {
	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return &Principal{ID: claims.UserID, Username: claims.Username}, nil
}

// BearerToken extracts the credential from an Authorization header value
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

type principalKey struct{}

// WithPrincipal returns a context carrying p
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
