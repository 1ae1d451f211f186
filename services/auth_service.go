package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"custody_backend/models"
)

var ErrInvalidToken = errors.New("недействительный токен")

// SessionClaims полезная нагрузка токена сессии
type SessionClaims struct {
	Role models.PersonRole `json:"role"`
	jwt.RegisteredClaims
}

// AuthService выпускает и проверяет токены сессий администраторов
type AuthService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthService создает сервис сессий
func NewAuthService(secret, issuer string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// IssueToken выпускает токен для сотрудника
func (as *AuthService) IssueToken(person *models.Person) (string, time.Time, error) {
	issuedAt := as.now()
	expiresAt := issuedAt.Add(as.ttl)

	claims := SessionClaims{
		Role: person.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(person.ID), 10),
			Issuer:    as.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return token, expiresAt, nil
}

// ParseToken проверяет подпись и срок действия, возвращает идентификатор сотрудника
func (as *AuthService) ParseToken(tokenString string) (uint, *SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return as.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(as.issuer),
		jwt.WithTimeFunc(as.now),
	)
	if err != nil || !token.Valid {
		return 0, nil, ErrInvalidToken
	}

	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, nil, ErrInvalidToken
	}
	return uint(id), claims, nil
}
