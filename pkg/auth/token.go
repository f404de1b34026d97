// Package auth verifies the bearer tokens minted by the identity service.
// Issue exists for tests and local tooling.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

var signingMethod = jwt.SigningMethodHS256

var (
	ErrShopRequired  = errors.New("shop role requires shop_id")
	ErrMissingSecret = errors.New("jwt secret is required")
)

// AccessTokenPayload is the input to Issue.
type AccessTokenPayload struct {
	Subject uuid.UUID
	ShopID  *uuid.UUID
	Role    enums.ActorRole
	JTI     string
}

// AccessTokenClaims is the token body. Shops must carry shop_id; operators
// and drivers may not need one.
type AccessTokenClaims struct {
	ShopID *uuid.UUID      `json:"shop_id,omitempty"`
	Role   enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

func (c *AccessTokenClaims) SubjectID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

func (c *AccessTokenClaims) checkActor() error {
	switch {
	case !c.Role.IsValid():
		return fmt.Errorf("invalid actor role %q", c.Role)
	case c.Role == enums.ActorRoleShop && c.ShopID == nil:
		return ErrShopRequired
	}
	return nil
}

// Verifier checks HS256 tokens from one issuer.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	return &Verifier{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(cfg.Leeway),
		),
	}, nil
}

// Verify validates the signature and registered claims, then the actor shape.
func (v *Verifier) Verify(raw string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return nil, err
	}
	if err := claims.checkActor(); err != nil {
		return nil, err
	}
	return claims, nil
}

// Issue signs a token valid from now for cfg.ExpirationMinutes.
func Issue(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", ErrMissingSecret
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return "", errors.New("jwt expiration minutes must be positive")
	}

	claims := AccessTokenClaims{
		ShopID: payload.ShopID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.Subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        payload.JTI,
		},
	}
	if err := claims.checkActor(); err != nil {
		return "", err
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
