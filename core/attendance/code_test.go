package attendance

import (
	"strings"
	"testing"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode() error = %v", err)
		}
		if len(code) != codeLength {
			t.Errorf("GenerateCode() len = %d; want %d", len(code), codeLength)
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Errorf("GenerateCode() = %q; %q not in alphabet", code, r)
			}
		}
		seen[code] = true
	}
	// not a uniqueness guarantee, but 100 draws out of 32^6 colliding
	// into a single value would mean the sampling is broken
	if len(seen) < 2 {
		t.Errorf("GenerateCode() produced %d distinct codes out of 100 draws", len(seen))
	}
}

func TestGenerateCode_noAmbiguousChars(t *testing.T) {
	for _, forbidden := range []string{"0", "O", "1", "I"} {
		if strings.Contains(codeAlphabet, forbidden) {
			t.Errorf("code alphabet contains ambiguous character %q", forbidden)
		}
	}
	if len(codeAlphabet) != 32 {
		t.Errorf("code alphabet len = %d; want 32", len(codeAlphabet))
	}
}
