package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mediawish/internal/clock"
	"mediawish/pkg/domain"
)

const (
	defaultIssuer   = "mediawish"
	defaultAudience = "mediawish-api"
	defaultTTL      = 24 * time.Hour

	// MinSecretLength is the shortest HS256 secret accepted at startup.
	MinSecretLength = 32
)

var (
	// ErrTokenMissing means no bearer credentials were presented.
	ErrTokenMissing = errors.New("authentication token missing")
	// ErrTokenInvalid covers malformed, expired and badly signed tokens.
	ErrTokenInvalid = errors.New("authentication token invalid")
	// ErrRoleMismatch means a valid token was presented for the wrong principal class.
	ErrRoleMismatch = errors.New("token role not permitted")
)

// Options configures token issuance and claim validation.
type Options struct {
	Secret   []byte
	TTL      time.Duration
	Issuer   string
	Audience string
	Leeway   time.Duration
	Clock    clock.Clock
}

// Claims is the signed identity assertion carried by every session token.
type Claims struct {
	PrincipalID int64       `json:"id"`
	Username    string      `json:"username"`
	Role        domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 session tokens. It holds no per-token
// state, so a token stays valid until it expires.
type Manager struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	leeway   time.Duration
	clock    clock.Clock
}

// NewManager validates opts and returns a ready Manager.
func NewManager(opts Options) (*Manager, error) {
	if len(opts.Secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	opts = normalizeOptions(opts)
	return &Manager{
		secret:   opts.Secret,
		ttl:      opts.TTL,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
		clock:    opts.Clock,
	}, nil
}

// TTL reports the configured token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for principal carrying the given role.
func (m *Manager) Issue(principal domain.Principal, role domain.Role) (string, error) {
	if principal.ID <= 0 || strings.TrimSpace(principal.Username) == "" {
		return "", errors.New("principal id and username required")
	}
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := m.clock.Now().UTC()
	claims := Claims{
		PrincipalID: principal.ID,
		Username:    principal.Username,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(principal.ID, 10),
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, registered claims and role. It never performs I/O.
func (m *Manager) Verify(token string, expected domain.Role) (Claims, error) {
	claims, err := m.parse(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Role != expected {
		return Claims{}, ErrRoleMismatch
	}
	return claims, nil
}

func (m *Manager) parse(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenMissing
	}
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrTokenInvalid
	}
	if claims.PrincipalID <= 0 || strings.TrimSpace(claims.Username) == "" {
		return Claims{}, fmt.Errorf("%w: identity claims missing", ErrTokenInvalid)
	}
	if claims.Subject != strconv.FormatInt(claims.PrincipalID, 10) {
		return Claims{}, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	}
	if !claims.Role.Valid() {
		return Claims{}, fmt.Errorf("%w: unknown role", ErrTokenInvalid)
	}
	return claims, nil
}

func normalizeOptions(opts Options) Options {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultAudience
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	// Zero leeway means exp is enforced to the second.
	if opts.Leeway < 0 {
		opts.Leeway = 0
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return opts
}
