package signal

import (
	"strings"
	"testing"
)

func TestGenerateRoomCodeShape(t *testing.T) {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := GenerateRoomCode()
		if len(code) != 6 {
			t.Fatalf("code %q, want 6 chars", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(alphabet, r) {
				t.Fatalf("code %q contains %q outside the base-36 alphabet", code, r)
			}
		}
		seen[code] = true
	}
	// Collisions in 200 draws from 36^6 would be a broken generator.
	if len(seen) < 190 {
		t.Fatalf("only %d distinct codes in 200 draws", len(seen))
	}
}
