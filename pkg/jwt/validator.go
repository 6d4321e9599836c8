package jwt

import (
	"errors"
	"fmt"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token fails signature or structural validation.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrMissingSubject is returned when a valid token carries no subject claim.
	ErrMissingSubject = errors.New("token has no subject claim")
)

// Validator validates HS256 tokens issued by the identity service.
type Validator struct {
	cfg Config
}

// NewValidator creates a new Validator with the given configuration.
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// ExtractUserID validates the token and returns the user ID from the subject claim.
func (v *Validator) ExtractUserID(tokenString string) (string, error) {
	token, err := jwtlib.Parse(
		tokenString,
		func(t *jwtlib.Token) (any, error) {
			if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(v.cfg.SecretKey), nil
		},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrMissingSubject
	}

	return sub, nil
}
