package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

const jwtContextKey = "userToken"

// Claims represents the authorization claims transmitted via a JWT.
// Identity is managed by the upstream auth service; this API only verifies
// and reads the token.
type Claims struct {
	jwt.StandardClaims
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	IsStudent bool   `json:"is_student,omitempty"` // -> STUDENT PORTAL
	IsTeacher bool   `json:"is_teacher,omitempty"` // -> TEACHER PORTAL
	IsAdmin   bool   `json:"is_admin,omitempty"`   // -> ADMIN PORTAL
}

func newJWTConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    jwtContextKey,
		Claims:        new(Claims),
	}
}

// GetActorClaims builds the claims carried in a token for `actor`.
func GetActorClaims(conf *core.Config, actor core.Actor) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   actor.ID,
			Audience:  "Academia",
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Name:      actor.Name,
		Email:     actor.Email,
		IsStudent: actor.IsStudent,
		IsTeacher: actor.IsTeacher,
		IsAdmin:   actor.IsAdmin,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(jwtContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// getContextActor maps the verified token claims to the core actor identity.
func getContextActor(ctx echo.Context) (core.Actor, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return core.Actor{}, err
	}
	return core.Actor{
		ID:        claims.Subject,
		Name:      claims.Name,
		Email:     claims.Email,
		IsStudent: claims.IsStudent,
		IsTeacher: claims.IsTeacher,
		IsAdmin:   claims.IsAdmin,
	}, nil
}
