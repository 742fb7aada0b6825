package services

import (
	"context"
	"errors"

	"careline-chat/config"
	"careline-chat/internal/domain/user"
	"careline-chat/internal/repository"
	careline_errors "careline-chat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService verifies bearer credentials issued elsewhere. Registration,
// login and session management belong to the platform's auth service; the
// chat core only needs "a verified identity + role".
type AuthService struct {
	userRepo  repository.UserRepository
	jwtSecret []byte
}

func NewAuthService(userRepo repository.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{
		userRepo:  userRepo,
		jwtSecret: []byte(cfg.JWTSecret),
	}
}

type AccessClaims struct {
	UserID string `json:"id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, careline_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, careline_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, careline_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, careline_errors.ErrUnauthorized
	}

	return *claims, nil
}

// Authenticate resolves a bearer token to an active user. Callers get a
// non-specific auth error on any failure.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (user.User, error) {
	claims, err := s.ParseAccessToken(tokenString)
	if err != nil {
		return user.User{}, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return user.User{}, careline_errors.ErrUnauthorized
	}
	u, err := s.userRepo.GetActiveByID(ctx, userID)
	if err != nil {
		return user.User{}, careline_errors.ErrUnauthorized
	}
	return u, nil
}

// StatusFromError maps the service error taxonomy to HTTP status codes.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, careline_errors.ErrInvalidInput), errors.Is(err, careline_errors.ErrTooOldToEdit):
		return 400
	case errors.Is(err, careline_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, careline_errors.ErrForbidden):
		return 403
	case errors.Is(err, careline_errors.ErrNotFound):
		return 404
	case errors.Is(err, careline_errors.ErrAlreadyExists), errors.Is(err, careline_errors.ErrConflict):
		return 409
	default:
		return 500
	}
}

type ctxKey string

var userIDKey ctxKey = "user_id"

func WithUserContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	value := ctx.Value(userIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}
