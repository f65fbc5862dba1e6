package security

import (
	"strings"
	"testing"
)

// TestGenerateSecret_DefaultLength はデフォルト長での生成を検証する。
func TestGenerateSecret_DefaultLength(t *testing.T) {
	secret, err := GenerateSecret(0)
	if err != nil {
		t.Fatalf("GenerateSecret returned error: %v", err)
	}
	if len(secret) != DefaultSecretLength {
		t.Errorf("secret length = %d, want %d", len(secret), DefaultSecretLength)
	}
}

// TestGenerateSecret_CapsAtMax は上限長への丸めを検証する。
func TestGenerateSecret_CapsAtMax(t *testing.T) {
	secret, err := GenerateSecret(1000)
	if err != nil {
		t.Fatalf("GenerateSecret returned error: %v", err)
	}
	if len(secret) != MaxSecretLength {
		t.Errorf("secret length = %d, want %d", len(secret), MaxSecretLength)
	}
}

// TestGenerateSecret_Alphabet は英数字のみで構成されることを検証する。
func TestGenerateSecret_Alphabet(t *testing.T) {
	secret, err := GenerateSecret(100)
	if err != nil {
		t.Fatalf("GenerateSecret returned error: %v", err)
	}
	for _, c := range secret {
		if !strings.ContainsRune(secretAlphabet, c) {
			t.Fatalf("secret contains character outside alphabet: %q", c)
		}
	}
}

// TestGenerateSecret_Unique は連続生成で同一値にならないことを検証する。
func TestGenerateSecret_Unique(t *testing.T) {
	a, err := GenerateSecret(64)
	if err != nil {
		t.Fatalf("GenerateSecret returned error: %v", err)
	}
	b, err := GenerateSecret(64)
	if err != nil {
		t.Fatalf("GenerateSecret returned error: %v", err)
	}
	if a == b {
		t.Error("two generated secrets should not be equal")
	}
}
