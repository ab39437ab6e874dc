package feed

import (
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"

	"github.com/golang-jwt/jwt/v5"
)

// feedTokenIssuer identifies tokens minted for the change-feed transport.
const feedTokenIssuer = "gsm-sync"

// MintFeedToken signs a short-lived bearer token presented on feed dial. The
// backend scopes the subscription server-side from these claims.
func MintFeedToken(secret string, scope model.ViewScope, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.NewValidationError("feed token secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  feedTokenIssuer,
		"sub":  scope.ViewerID,
		"role": string(scope.Role),
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.NewInternalError("failed to sign feed token").WithCause(err)
	}
	return signed, nil
}

// ParseFeedToken validates a feed token and recovers the viewer scope from it.
func ParseFeedToken(secret, tokenString string) (model.ViewScope, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.NewValidationError("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(feedTokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return model.ViewScope{}, errors.NewValidationError("invalid feed token").WithCause(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return model.ViewScope{}, errors.NewValidationError("invalid feed token claims")
	}

	scope := model.ViewScope{}
	if sub, ok := claims["sub"].(string); ok {
		scope.ViewerID = sub
	}
	if role, ok := claims["role"].(string); ok {
		scope.Role = model.Role(role)
	}
	if err := scope.Validate(); err != nil {
		return model.ViewScope{}, err
	}
	return scope, nil
}
