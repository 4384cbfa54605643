// Package auth signs and verifies access tokens (HS256 JWTs).
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access-token payload understood by the rest of the server.
type Claims struct {
	SubjectID   string
	SubjectName string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// TokenCodec turns Claims into an opaque bearer string and back.
type TokenCodec interface {
	Encode(c Claims) (string, error)
	Decode(token string) (*Claims, error)
}

// jwtClaims is the wire form: registered claims plus the subject name.
type jwtClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

// JWTCodec is a TokenCodec backed by HMAC-SHA256 signed JWTs carrying
// iss and aud from configuration.
type JWTCodec struct {
	secretKey []byte
	issuer    string
	audience  string
}

func NewJWTCodec(secretKey []byte, issuer, audience string) *JWTCodec {
	return &JWTCodec{secretKey: secretKey, issuer: issuer, audience: audience}
}

// Encode signs c. IssuedAt and ExpiresAt are taken as given.
func (j *JWTCodec) Encode(c Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.SubjectID,
			ID:        c.TokenID,
			Issuer:    j.issuer,
			Audience:  jwt.ClaimStrings{j.audience},
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
		Name: c.SubjectName,
	})

	return token.SignedString(j.secretKey)
}

// Decode verifies signature, algorithm, expiry, issuer and audience.
// Expired tokens yield common.ErrTokenExpired, anything else
// common.ErrInvalidToken.
func (j *JWTCodec) Decode(tokenString string) (*Claims, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return j.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(j.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	out := &Claims{
		SubjectID:   claims.Subject,
		SubjectName: claims.Name,
		TokenID:     claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
