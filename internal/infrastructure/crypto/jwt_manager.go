// Package crypto issues and verifies the session tokens that carry an authenticated
// principal. Tokens are HMAC-signed with the material of a KeyStore key.
package crypto

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
)

var validMethods = []string{
	string(constants.AlgorithmHS256),
	string(constants.AlgorithmHS384),
	string(constants.AlgorithmHS512),
}

type jwtManagerImpl struct {
	issuer string
	clock  service.Clock
}

var _ service.TokenSigner = (*jwtManagerImpl)(nil)

// NewJWTManager creates a TokenSigner.
func NewJWTManager(issuer string, clock service.Clock) service.TokenSigner {
	if issuer == "" {
		issuer = constants.ServiceName
	}
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &jwtManagerImpl{issuer: issuer, clock: clock}
}

// Sign creates and signs a token for session with material.
func (j *jwtManagerImpl) Sign(session *models.Session, material *models.KeyMaterial) (string, error) {
	method := jwt.GetSigningMethod(string(material.Algorithm))
	if method == nil || !material.Algorithm.Valid() {
		return "", fmt.Errorf("unsupported signing algorithm %q", material.Algorithm)
	}

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.SessionID,
			Subject:   session.UserID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		Generation: session.Generation,
	}

	jwtToken := jwt.NewWithClaims(method, claims)
	jwtToken.Header[HeaderKeyID] = material.KeyID
	jwtToken.Header[HeaderMaterialVersion] = material.MaterialVersion

	signed, err := jwtToken.SignedString(material.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenString and returns its session. Every failure is Unauthenticated.
func (j *jwtManagerImpl) Parse(
	tokenString string,
	resolve func(keyID string, version int) (*models.KeyMaterial, error),
) (*models.Session, error) {
	var (
		keyID   string
		version int
	)
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header[HeaderKeyID].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("missing %s header", HeaderKeyID)
		}
		kver, ok := token.Header[HeaderMaterialVersion].(float64)
		if !ok || kver < 1 {
			return nil, fmt.Errorf("missing %s header", HeaderMaterialVersion)
		}
		keyID, version = kid, int(kver)

		material, err := resolve(keyID, version)
		if err != nil {
			return nil, err
		}
		if token.Method.Alg() != string(material.Algorithm) {
			return nil, fmt.Errorf("token algorithm %s does not match key algorithm %s", token.Method.Alg(), material.Algorithm)
		}
		return material.Secret, nil
	},
		jwt.WithValidMethods(validMethods),
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Unauthenticated("session expired").WithCause(err)
		}
		return nil, errors.Unauthenticated("invalid session token").WithCause(err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.Unauthenticated("invalid session token")
	}
	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time.UTC()
	}

	return &models.Session{
		SessionID:       claims.ID,
		UserID:          claims.Subject,
		KeyID:           keyID,
		MaterialVersion: version,
		Generation:      claims.Generation,
		IssuedAt:        issuedAt,
		ExpiresAt:       claims.ExpiresAt.Time.UTC(),
	}, nil
}

//Personal.AI order the ending
