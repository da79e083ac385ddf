package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
)

const (
	bearerPrefix            = "Bearer "
	contextKeyOperator      = "operator_subject"
	queryEmail              = "email"
	queryDryRun             = "dry_run"
	defaultOperatorTokenTTL = time.Hour
)

var errInvalidOperatorToken = errors.New("invalid operator token")

// OperatorAuth issues and checks the bearer tokens that guard operator routes.
type OperatorAuth struct {
	signingKey []byte
	issuer     string
	nowFn      func() time.Time
}

// NewOperatorAuth returns an OperatorAuth signing with key.
func NewOperatorAuth(signingKey string, issuer string, now func() time.Time) (*OperatorAuth, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, fmt.Errorf("%w: operator signing key is empty", benefits.ErrInvalidServiceConfig)
	}
	if now == nil {
		now = time.Now
	}
	return &OperatorAuth{signingKey: []byte(signingKey), issuer: issuer, nowFn: now}, nil
}

// IssueToken signs a token for subject. A non-positive ttl means one hour.
func (auth *OperatorAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%w: operator subject is empty", benefits.ErrInvalidServiceConfig)
	}
	if ttl <= 0 {
		ttl = defaultOperatorTokenTTL
	}
	issuedAt := auth.nowFn()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    auth.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(auth.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its subject.
func (auth *OperatorAuth) Verify(token string) (string, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(auth.nowFn),
	}
	if auth.issuer != "" {
		options = append(options, jwt.WithIssuer(auth.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return auth.signingKey, nil
	}, options...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidOperatorToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errInvalidOperatorToken
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token.
func (auth *OperatorAuth) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "bearer token required"))
			return
		}
		subject, err := auth.Verify(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid bearer token"))
			return
		}
		ctx.Set(contextKeyOperator, subject)
		ctx.Next()
	}
}

func (handler *Handler) handleRecompute(ctx *gin.Context) {
	filter := benefits.CardholderFilter{Email: strings.TrimSpace(ctx.Query(queryEmail))}
	dryRun := ctx.Query(queryDryRun) == "true"
	handler.logger.Info("operator recompute requested",
		zap.String("operator", ctx.GetString(contextKeyOperator)),
		zap.String("email", filter.Email),
		zap.Bool("dry_run", dryRun),
	)
	summary, err := handler.deps.Sweeps.RecomputeAll(ctx.Request.Context(), filter, dryRun)
	if err != nil {
		handler.logger.Error("operator recompute failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("sweep_failed", "recompute failed"))
		return
	}
	ctx.JSON(http.StatusOK, summary)
}
