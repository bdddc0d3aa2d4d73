package auth

import (
	"testing"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
)

func TestAPIKeyValidator_ValidKey(t *testing.T) {
	v := NewStaticAPIKeyValidator(apiKeyRecord{
		Key: "s3cret", Identity: "ci-bot", Permissions: []string{"cluster:view"},
	})
	ac, err := v.Validate("s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.Identity != "ci-bot" || ac.Method != kubently.AuthAPIKey {
		t.Fatalf("unexpected AuthContext: %+v", ac)
	}
	if !ac.HasPermission("cluster:view") {
		t.Fatal("expected cluster:view permission")
	}
}

func TestAPIKeyValidator_InvalidKey(t *testing.T) {
	v := NewStaticAPIKeyValidator(apiKeyRecord{Key: "s3cret", Identity: "ci-bot"})
	_, err := v.Validate("wrong")
	if kerrors.KindOf(err) != kerrors.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestAPIKeyValidator_EmptyKey(t *testing.T) {
	v := NewStaticAPIKeyValidator()
	_, err := v.Validate("")
	if kerrors.KindOf(err) != kerrors.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestAPIKeyValidator_NoMatchAmongMultiple(t *testing.T) {
	v := NewStaticAPIKeyValidator(
		apiKeyRecord{Key: "one", Identity: "a"},
		apiKeyRecord{Key: "two", Identity: "b"},
	)
	ac, err := v.Validate("two")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.Identity != "b" {
		t.Fatalf("expected identity b, got %s", ac.Identity)
	}
}
