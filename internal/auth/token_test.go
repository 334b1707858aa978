package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"archsync/internal/rbac"
)

var issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signerAt(secret, documentID string, at time.Time) *Signer {
	return NewSigner(secret, documentID, func() time.Time { return at })
}

func TestSignerIssueAndParse(t *testing.T) {
	signer := signerAt("secret", "architecture", issuedAt)
	token, issued, err := signer.Issue("Avery", rbac.RoleReviewer, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := signer.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims != issued {
		t.Fatalf("parsed %+v, issued %+v", claims, issued)
	}
	if claims.Sub != "operator:Avery" || claims.Role != rbac.RoleReviewer || claims.Doc != "architecture" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Exp-claims.Iat != int64(time.Hour/time.Second) {
		t.Fatalf("lifetime = %ds", claims.Exp-claims.Iat)
	}
}

func TestSignerRejectsUnknownRole(t *testing.T) {
	if _, _, err := signerAt("secret", "architecture", issuedAt).Issue("Avery", rbac.Role("root"), time.Hour); err == nil {
		t.Fatal("expected unknown role to be refused")
	}
}

func TestSignerParseRejects(t *testing.T) {
	signer := signerAt("secret", "architecture", issuedAt)
	token, _, err := signer.Issue("Avery", rbac.RoleOperator, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	payload, signature, _ := strings.Cut(token, ".")
	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"operator:x","name":"x","role":"admin","doc":"architecture","jti":"j","exp":9999999999}`))

	cases := []struct {
		name   string
		signer *Signer
		token  string
		want   error
	}{
		{name: "wrong secret", signer: signerAt("other", "architecture", issuedAt), token: token, want: ErrInvalidToken},
		{name: "extra segment", signer: signer, token: token + ".x", want: ErrInvalidToken},
		{name: "no signature", signer: signer, token: payload, want: ErrInvalidToken},
		{name: "forged payload", signer: signer, token: forged + "." + signature, want: ErrInvalidToken},
		{name: "other document", signer: signerAt("secret", "platform", issuedAt), token: token, want: ErrWrongDocument},
		{name: "expired", signer: signerAt("secret", "architecture", issuedAt.Add(2*time.Hour)), token: token, want: ErrExpiredToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.signer.Parse(tc.token); !errors.Is(err, tc.want) {
				t.Fatalf("Parse() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestWrongDocumentIsInvalidToken(t *testing.T) {
	if !errors.Is(ErrWrongDocument, ErrInvalidToken) {
		t.Fatal("a token for another document must be treated as invalid")
	}
}

func TestOperatorKey(t *testing.T) {
	if _, err := HashOperatorKey("short"); err == nil {
		t.Fatal("expected short keys to be refused")
	}
	hash, err := HashOperatorKey("correct-horse-battery")
	if err != nil {
		t.Fatalf("HashOperatorKey() error = %v", err)
	}
	if err := VerifyOperatorKey(hash, "correct-horse-battery"); err != nil {
		t.Fatalf("VerifyOperatorKey() error = %v", err)
	}
	if err := VerifyOperatorKey(hash, "wrong-horse-battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := VerifyOperatorKey("", "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty hash must refuse login, got %v", err)
	}
}
