package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"

	"chippo_portfolio/internal/model"
)

// Verifier turns a bearer token into the identity it was issued for.
type Verifier interface {
	Verify(ctx context.Context, token string) (model.SessionUser, error)
}

type claims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 access token for u that expires after maxAge.
func IssueToken(secret string, u model.SessionUser, maxAge time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Name:    u.DisplayName,
		Picture: u.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(maxAge)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// JWTVerifier checks tokens issued by IssueToken.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (model.SessionUser, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.SessionUser{}, model.ErrTokenExpired
		}
		return model.SessionUser{}, fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}
	if !parsed.Valid || c.Subject == "" {
		return model.SessionUser{}, model.ErrInvalidToken
	}
	return model.SessionUser{ID: c.Subject, DisplayName: c.Name, AvatarURL: c.Picture}, nil
}

// FirebaseVerifier checks Firebase Authentication ID tokens, so users signed
// in through the web client's Google popup are recognised as-is.
type FirebaseVerifier struct {
	client *auth.Client
}

func NewFirebaseVerifier(client *auth.Client) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (model.SessionUser, error) {
	t, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		if auth.IsIDTokenExpired(err) {
			return model.SessionUser{}, model.ErrTokenExpired
		}
		return model.SessionUser{}, fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}
	u := model.SessionUser{ID: t.UID}
	if name, ok := t.Claims["name"].(string); ok {
		u.DisplayName = name
	}
	if pic, ok := t.Claims["picture"].(string); ok {
		u.AvatarURL = pic
	}
	return u, nil
}

// Chain tries each verifier in order and returns the first success. An
// expired token stops the chain so the caller can tell the user to refresh.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (model.SessionUser, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.SessionUser{}, model.ErrInvalidToken
	}
	err := model.ErrInvalidToken
	for _, v := range c {
		u, verr := v.Verify(ctx, token)
		if verr == nil {
			return u, nil
		}
		if errors.Is(verr, model.ErrTokenExpired) {
			return model.SessionUser{}, verr
		}
		err = verr
	}
	return model.SessionUser{}, err
}
