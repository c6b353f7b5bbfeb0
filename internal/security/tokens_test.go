package security

import (
	"strings"
	"testing"
	"time"
)

var testSecret = []byte(strings.Repeat("s", MinSecretLen))

func newTestProvider(t *testing.T) *TokenProvider {
	t.Helper()
	p, err := NewTokenProvider(testSecret, "ied-sentinel", "ied-authority", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	return p
}

func TestNewTokenProvider_WeakSecret(t *testing.T) {
	if _, err := NewTokenProvider([]byte("short"), "i", "a", time.Hour); err != ErrWeakSecret {
		t.Errorf("err = %v, want ErrWeakSecret", err)
	}
}

func TestTokenProvider_IssueAndValidate(t *testing.T) {
	p := newTestProvider(t)
	token, exp, err := p.Issue("ops")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("token empty")
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}
	op, err := p.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if op != "ops" {
		t.Errorf("operator = %q, want ops", op)
	}
}

func TestTokenProvider_IssueRequiresOperator(t *testing.T) {
	if _, _, err := newTestProvider(t).Issue("  "); err == nil {
		t.Error("expected error for blank operator")
	}
}

func TestTokenProvider_ValidateRejects(t *testing.T) {
	p := newTestProvider(t)
	token, _, err := p.Issue("ops")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewTokenProvider([]byte(strings.Repeat("o", MinSecretLen)), "ied-sentinel", "ied-authority", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	wrongAudience, err := NewTokenProvider(testSecret, "ied-sentinel", "someone-else", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired := newTestProvider(t)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	tests := []struct {
		name  string
		p     *TokenProvider
		token string
	}{
		{"garbage", p, "invalid-token"},
		{"other secret", other, token},
		{"wrong audience", wrongAudience, token},
		{"expired", expired, token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.p.Validate(tt.token); err != ErrInvalidToken {
				t.Errorf("Validate: want ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		if got := BearerToken(tt.header); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
