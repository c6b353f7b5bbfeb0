package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	allowed := []string{"RDSO", "IPP"}
	tests := []struct {
		name string
		id   string
		list []string
		want bool
	}{
		{"listed", "RDSO", allowed, true},
		{"second listed", "IPP", allowed, true},
		{"attacker", "X", allowed, false},
		{"case sensitive", "rdso", allowed, false},
		{"empty id", "", allowed, false},
		{"empty list", "RDSO", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Allowed(ctx, tt.id, tt.list)
			if err != nil {
				t.Fatalf("Allowed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	module := `package ied.validation

default allow := false

allow if {
	input.id == "RDSO"
}
`
	e, err := NewOPAEvaluator(context.Background(), module)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if ok, _ := e.Allowed(context.Background(), "RDSO", nil); !ok {
		t.Error("RDSO should be allowed regardless of the list")
	}
	if ok, _ := e.Allowed(context.Background(), "IPP", []string{"IPP"}); ok {
		t.Error("IPP should be refused by the custom policy")
	}
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package ied.validation\n\nallow if {"); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestOPAEvaluator_UndefinedAllow(t *testing.T) {
	module := `package ied.validation

allow if {
	input.id == "RDSO"
}
`
	e, err := NewOPAEvaluator(context.Background(), module)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if _, err := e.Allowed(context.Background(), "X", nil); !errors.Is(err, ErrUndefined) {
		t.Errorf("err = %v, want ErrUndefined", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validation.rego")
	if err := os.WriteFile(path, []byte(DefaultPolicy), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err := LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if ok, _ := e.Allowed(context.Background(), "IPP", []string{"IPP"}); !ok {
		t.Error("IPP should be allowed")
	}
	if _, err := LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Error("expected error for missing file")
	}
}
