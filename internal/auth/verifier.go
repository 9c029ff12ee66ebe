package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/directory"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/jwt"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/middleware"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("expired credential")
	ErrUnknownPrincipal  = errors.New("unknown principal")
)

// UserLookup resolves a verified subject to a known identity.
type UserLookup interface {
	LookupUser(ctx context.Context, userID string) (*domain.User, error)
}

// Verifier turns bearer credentials into principals.
type Verifier struct {
	tokens *jwt.Manager
	users  UserLookup
}

func NewVerifier(tokens *jwt.Manager, users UserLookup) *Verifier {
	return &Verifier{tokens: tokens, users: users}
}

// Verify validates token and resolves its subject. The username comes from
// the directory, not from the token.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Principal, error) {
	claims, err := v.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return domain.Anonymous(), ErrExpiredCredential
		}
		return domain.Anonymous(), fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	user, err := v.users.LookupUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return domain.Anonymous(), fmt.Errorf("%w: %s", ErrUnknownPrincipal, claims.Subject)
		}
		return domain.Anonymous(), fmt.Errorf("failed to look up principal: %w", err)
	}

	return domain.NewPrincipal(user.ID, user.Username), nil
}

// Resolve is Verify for the transport: every failure, including a missing
// token, is logged and yields the anonymous principal.
func (v *Verifier) Resolve(ctx context.Context, token string) domain.Principal {
	l := log.Ctx(ctx)
	if token == "" {
		l.Debug().Msg("no credential presented, continuing as anonymous")
		return domain.Anonymous()
	}

	p, err := v.Verify(ctx, token)
	if err != nil {
		l.Info().Err(err).Msg("credential rejected, continuing as anonymous")
		return domain.Anonymous()
	}
	return p
}

// ValidateToken adapts Verify for HTTP bearer authentication.
func (v *Verifier) ValidateToken(ctx context.Context, token string) (middleware.Identity, error) {
	p, err := v.Verify(ctx, token)
	if err != nil {
		return middleware.Identity{}, err
	}
	return middleware.Identity{UserID: p.ID, Username: p.Username}, nil
}

// Issue mints a credential for userID.
func (v *Verifier) Issue(userID, username string) (string, time.Time, error) {
	return v.tokens.GenerateAccessToken(userID, username)
}
