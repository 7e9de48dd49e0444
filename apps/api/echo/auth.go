package echoapi

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/moderation"
)

const (
	contextTokenKey = "userToken"
	tokenAudience   = "Academia"
)

type claimsCtxKey struct{}

// Claims represents the authorization claims transmitted via a JWT.
// Tokens are issued by the platform's auth service and signed with the shared secret key.
type Claims struct {
	jwt.StandardClaims
	Email   string   `json:"email,omitempty"`
	IsAdmin bool     `json:"is_admin,omitempty"` // -> ADMIN PORTAL
	Roles   []string `json:"roles,omitempty"`
}

func newJWTConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
}

func NewClaims(conf *core.Config, userID, email string, isAdmin bool, roles ...string) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   userID,
			Audience:  tokenAudience,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Email:   email,
		IsAdmin: isAdmin,
		Roles:   roles,
	}
}

func (c Claims) Person() core.Person {
	return core.Person{ID: c.Subject, Email: c.Email}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(middleware.AlgorithmHS256), claims)

	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// requestContext returns the request's context carrying the caller's claims, if any.
func requestContext(ctx echo.Context) context.Context {
	rctx := ctx.Request().Context()
	if claims, err := getContextClaims(ctx); err == nil {
		rctx = context.WithValue(rctx, claimsCtxKey{}, claims)
	}
	return rctx
}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsCtxKey{}).(Claims)
	return claims, ok
}

// ClaimsAuthorizer allows an actor to resolve flags only when they are the admin behind the request.
var ClaimsAuthorizer = moderation.AuthorizerFunc(func(ctx context.Context, actorID string) (bool, error) {
	claims, ok := ClaimsFromContext(ctx)
	return ok && claims.IsAdmin && claims.Subject != "" && claims.Subject == actorID, nil
})
