package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-silksong/internal/db"
	"backend-silksong/internal/shared/apperr"
	"backend-silksong/internal/users"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour

	uniqueViolation = "23505"
)

var (
	signTokenFn       = (*Service).signToken
	hashPasswordFn    = bcrypt.GenerateFromPassword
	parseWithClaimsFn = jwt.ParseWithClaims

	errInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthenticated)
	errRefreshInvalid     = fmt.Errorf("%w: refresh token invalid", apperr.ErrUnauthenticated)
)

type Service struct {
	secret   []byte
	db       db.Querier
	users    *users.Store
	validate *validator.Validate
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func NewService(secret string, db db.Querier, directory *users.Store) *Service {
	return &Service{
		secret:   []byte(secret),
		db:       db,
		users:    directory,
		validate: validator.New(),
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (users.User, TokenResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return users.User{}, TokenResponse{}, apperr.Invalid(describeValidation(err))
	}
	hash, err := hashPasswordFn([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return users.User{}, TokenResponse{}, err
	}

	user := users.User{
		ID:    uuid.NewString(),
		Email: &req.Email,
	}
	if req.Name != "" {
		user.Name = &req.Name
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, name, password_hash)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`, user.ID, user.Email, user.Name, string(hash))
	if err := row.Scan(&user.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return users.User{}, TokenResponse{}, apperr.Invalid("email already registered")
		}
		return users.User{}, TokenResponse{}, apperr.Upstream(err)
	}

	tokens, err := s.GenerateTokens(ctx, user.ID)
	if err != nil {
		return users.User{}, TokenResponse{}, err
	}
	return user, tokens, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (users.User, TokenResponse, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM users WHERE email = $1
	`, req.Email)

	var user users.User
	var passwordHash string
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &passwordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return users.User{}, TokenResponse{}, errInvalidCredentials
		}
		return users.User{}, TokenResponse{}, apperr.Upstream(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		return users.User{}, TokenResponse{}, errInvalidCredentials
	}

	tokens, err := s.GenerateTokens(ctx, user.ID)
	if err != nil {
		return users.User{}, TokenResponse{}, err
	}
	return user, tokens, nil
}

// Me loads the profile of an authenticated caller.
func (s *Service) Me(ctx context.Context, userID string) (Profile, error) {
	if userID == "" {
		return Profile{}, apperr.ErrUnauthenticated
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: u, DisplayName: u.DisplayName()}, nil
}

func (s *Service) GenerateTokens(ctx context.Context, userID string) (TokenResponse, error) {
	access, err := signTokenFn(s, userID, accessTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	refresh, err := signTokenFn(s, userID, refreshTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	if err := s.saveRefreshToken(ctx, refresh, userID, refreshTokenTTL); err != nil {
		return TokenResponse{}, apperr.Upstream(err)
	}

	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
	}, nil
}

func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", errRefreshInvalid
	}

	userID, expiresAt, err := s.lookupRefreshToken(ctx, token)
	if err != nil || userID != claims.UserID || time.Now().After(expiresAt) {
		return "", errRefreshInvalid
	}
	return claims.UserID, nil
}

// Refresh trades a live refresh token for a new token pair. The presented
// token is revoked first so it cannot be replayed.
func (s *Service) Refresh(ctx context.Context, token string) (TokenResponse, error) {
	userID, err := s.ValidateRefreshToken(ctx, token)
	if err != nil {
		return TokenResponse{}, err
	}
	if err := s.revokeRefreshToken(ctx, token); err != nil {
		return TokenResponse{}, err
	}
	return s.GenerateTokens(ctx, userID)
}

func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (s *Service) signToken(userID string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	return parseClaims(s.secret, token, parseWithClaimsFn)
}

func parseClaims(secret []byte, token string, parse func(string, jwt.Claims, jwt.Keyfunc, ...jwt.ParserOption) (*jwt.Token, error)) (*Claims, error) {
	parsed, err := parse(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func (s *Service) saveRefreshToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at)
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), userID, token, time.Now().Add(ttl))
	return err
}

func (s *Service) revokeRefreshToken(ctx context.Context, token string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE token = $1 AND revoked_at IS NULL
	`, token, time.Now())
	if err != nil {
		return apperr.Upstream(err)
	}
	if tag.RowsAffected() == 0 {
		return errRefreshInvalid
	}
	return nil
}

func (s *Service) lookupRefreshToken(ctx context.Context, token string) (string, time.Time, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, expires_at
		FROM refresh_tokens
		WHERE token = $1 AND revoked_at IS NULL
	`, token)
	var userID string
	var expiresAt time.Time
	if err := row.Scan(&userID, &expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return userID, expiresAt, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s required", fieldName(fe))
	case "email":
		return "email invalid"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fieldName(fe), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fieldName(fe), fe.Param())
	default:
		return fmt.Sprintf("%s invalid", fieldName(fe))
	}
}

func fieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "Email":
		return "email"
	case "Password":
		return "password"
	case "Name":
		return "name"
	default:
		return fe.Field()
	}
}
