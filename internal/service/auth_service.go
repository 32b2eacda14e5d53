package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/simulacro-backend/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidOpsSecret  = errors.New("invalid operational secret")
	ErrOpsSecretDisabled = errors.New("operational secret not configured")
)

// TokenType distinguishes student tokens from anything else the identity
// service issues.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
)

// Claims are the JWT claims issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id"`
	CohortID  int       `json:"cohort_id,omitempty"`
}

// AuthService validates student tokens and the operational secret. Tokens are
// issued elsewhere; SignStudentToken exists for tooling and tests.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// SignStudentToken issues a student token valid for ttl.
func (s *AuthService) SignStudentToken(studentID, cohortID int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(studentID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: TokenTypeStudent,
		UserID:    studentID,
		CohortID:  cohortID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyOpsSecret compares a presented secret against OPS_SECRET_HASH.
func (s *AuthService) VerifyOpsSecret(secret string) error {
	if s.cfg.OpsSecretHash == "" {
		return ErrOpsSecretDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.OpsSecretHash), []byte(secret)); err != nil {
		return ErrInvalidOpsSecret
	}
	return nil
}

// HashSecret hashes a secret with the configured bcrypt cost.
func (s *AuthService) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cfg.BcryptCost)
	return string(hash), err
}
