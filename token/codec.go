// Package token signs and verifies the access and refresh tokens issued by
// the engine. The codec is pure: given a secret, a clock, and the configured
// TTLs it is a deterministic function with no persistence behind it.
package token

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Use distinguishes the two token kinds. It is embedded as a claim so an
// access token can never be replayed against the refresh endpoint or vice
// versa.
type Use string

const (
	UseAccess  Use = "access"
	UseRefresh Use = "refresh"
)

// SigningMethod selects the signature scheme.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

var (
	// ErrExpired means the token's expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrBadSignature means the signature did not verify against the key.
	ErrBadSignature = errors.New("bad token signature")
	// ErrMalformed means the token could not be parsed or its claims are
	// structurally invalid.
	ErrMalformed = errors.New("malformed token")
	// ErrWrongUse means a structurally valid token of the other kind was
	// presented (an access token on the refresh path, or the reverse).
	ErrWrongUse = errors.New("token use mismatch")
)

// Config carries the immutable signing parameters. For MethodHS256 Key is the
// shared secret; for MethodEd25519 it is the raw or PEM-encoded private key
// and VerifyKey the public key (VerifyKey may be omitted when Key is a full
// ed25519 private key).
type Config struct {
	SigningMethod SigningMethod
	Key           []byte
	VerifyKey     []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Leeway        time.Duration
}

// Claims is the signed claim set shared by both token kinds. RID is only set
// on refresh tokens and names the backing refresh record.
type Claims struct {
	UID string `json:"uid"`
	RID string `json:"rid,omitempty"`
	Use Use    `json:"token_use"`
	jwt.RegisteredClaims
}

// Codec issues and verifies tokens. Safe for concurrent use.
type Codec struct {
	cfg       Config
	signKey   any
	verifyKey any
	method    jwt.SigningMethod
}

// New validates the config and returns a ready codec.
func New(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: TTLs must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: leeway out of range")
	}
	c := &Codec{cfg: cfg}
	switch cfg.SigningMethod {
	case MethodHS256, "":
		if len(cfg.Key) == 0 {
			return nil, errors.New("token: hs256 requires a secret key")
		}
		c.method = jwt.SigningMethodHS256
		c.signKey = cfg.Key
		c.verifyKey = cfg.Key
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.Key)
		if err != nil {
			return nil, err
		}
		c.method = jwt.SigningMethodEdDSA
		c.signKey = priv
		if len(cfg.VerifyKey) > 0 {
			pub, err := parseEdPublicKey(cfg.VerifyKey)
			if err != nil {
				return nil, err
			}
			c.verifyKey = pub
		} else {
			c.verifyKey = priv.Public()
		}
	default:
		return nil, errors.New("token: unsupported signing method")
	}
	return c, nil
}

// IssueAccess signs a short-lived access token for the user.
func (c *Codec) IssueAccess(userID string, now time.Time) (string, error) {
	return c.issue(Claims{UID: userID, Use: UseAccess}, now, c.cfg.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token bound to a refresh record.
func (c *Codec) IssueRefresh(recordID, userID string, now time.Time) (string, error) {
	return c.issue(Claims{UID: userID, RID: recordID, Use: UseRefresh}, now, c.cfg.RefreshTTL)
}

func (c *Codec) issue(claims Claims, now time.Time, ttl time.Duration) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    c.cfg.Issuer,
	}
	return jwt.NewWithClaims(c.method, claims).SignedString(c.signKey)
}

// Verify checks signature and expiry against the supplied clock and enforces
// the expected use. The signature is verified before any claim is trusted.
func (c *Codec) Verify(tokenStr string, expected Use, now time.Time) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if c.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.cfg.Leeway))
	}
	if c.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.cfg.Issuer))
	}
	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		default:
			return nil, ErrMalformed
		}
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || claims.UID == "" {
		return nil, ErrMalformed
	}
	if claims.Use != expected {
		return nil, ErrWrongUse
	}
	if claims.Use == UseRefresh && claims.RID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 public key type")
	}
	return edKey, nil
}
