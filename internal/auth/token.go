package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"archsync/internal/rbac"
)

// Claims identify an operator session. Doc scopes the token to the document
// the server syncs, so a token minted for one document is refused by another.
type Claims struct {
	Sub  string    `json:"sub"`
	Name string    `json:"name"`
	Role rbac.Role `json:"role"`
	Doc  string    `json:"doc"`
	JTI  string    `json:"jti"`
	Iat  int64     `json:"iat"`
	Exp  int64     `json:"exp"`
}

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("expired token")
	ErrWrongDocument = fmt.Errorf("%w: issued for another document", ErrInvalidToken)
)

// Signer issues and checks HMAC-signed operator tokens for one document.
type Signer struct {
	secret     []byte
	documentID string
	now        func() time.Time
}

func NewSigner(secret, documentID string, now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: []byte(secret), documentID: documentID, now: now}
}

// Issue signs a token for name acting as role until now+ttl.
func (s *Signer) Issue(name string, role rbac.Role, ttl time.Duration) (string, Claims, error) {
	if _, ok := rbac.Parse(string(role)); !ok {
		return "", Claims{}, fmt.Errorf("issue token: unknown role %q", role)
	}
	issuedAt := s.now()
	claims := Claims{
		Sub:  "operator:" + name,
		Name: name,
		Role: role,
		Doc:  s.documentID,
		JTI:  uuid.NewString(),
		Iat:  issuedAt.Unix(),
		Exp:  issuedAt.Add(ttl).Unix(),
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + s.sign(payload), claims, nil
}

// Parse verifies the signature, the document scope, the role and the expiry.
func (s *Signer) Parse(token string) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(payload))) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.Name == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if _, known := rbac.Parse(string(claims.Role)); !known {
		return Claims{}, ErrInvalidToken
	}
	if claims.Doc != s.documentID {
		return Claims{}, ErrWrongDocument
	}
	if s.now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
