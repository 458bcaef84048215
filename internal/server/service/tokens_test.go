package service

import (
	"strings"
	"testing"
)

func TestGenerateSecureToken(t *testing.T) {
	t.Run("generates correct length", func(t *testing.T) {
		for _, length := range []int{8, 16, 24, shareTokenLength} {
			token, err := generateSecureToken(length)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(token) != length {
				t.Errorf("expected length %d, got %d", length, len(token))
			}
		}
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			token, err := generateSecureToken(shareTokenLength)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seen[token] {
				t.Fatalf("duplicate token generated: %s", token)
			}
			seen[token] = true
		}
	})

	t.Run("only contains URL-safe characters", func(t *testing.T) {
		token, err := generateSecureToken(100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		for _, c := range token {
			if !strings.ContainsRune(charset, c) {
				t.Errorf("token contains invalid character: %c", c)
			}
		}
	})
}
