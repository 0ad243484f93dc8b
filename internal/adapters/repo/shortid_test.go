package repo

import (
	"strings"
	"testing"
)

func TestGenerateShortIDLengthAndAlphabet(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id, err := generateShortID()
		if err != nil {
			t.Fatalf("generateShortID: %v", err)
		}
		if len(id) != shortIDLength {
			t.Fatalf("ожидали длину %d, получили %q", shortIDLength, id)
		}
		for _, c := range id {
			if !strings.ContainsRune(shortIDAlphabet, c) {
				t.Fatalf("символ %q вне алфавита в %q", c, id)
			}
		}
	}
}

func TestGenerateShortIDUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id, err := generateShortID()
		if err != nil {
			t.Fatalf("generateShortID: %v", err)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("дубликат кода %q на итерации %d", id, i)
		}
		seen[id] = struct{}{}
	}
}
