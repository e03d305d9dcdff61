package domain

import (
	"strings"
	"testing"
)

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func TestNewID(t *testing.T) {
	t.Run("is 26 characters of Crockford Base32", func(t *testing.T) {
		id := NewID()
		if len(id) != 26 {
			t.Fatalf("expected 26 characters, got %d (%q)", len(id), id)
		}
		for _, r := range id {
			if !strings.ContainsRune(crockfordAlphabet, r) {
				t.Errorf("unexpected character %q in id %q", r, id)
			}
		}
	})

	t.Run("ids generated in sequence sort ascending", func(t *testing.T) {
		prev := NewID()
		for i := 0; i < 1000; i++ {
			id := NewID()
			if id <= prev {
				t.Fatalf("id %q not greater than predecessor %q", id, prev)
			}
			prev = id
		}
	})

	t.Run("concurrent generation produces no duplicates", func(t *testing.T) {
		const perGoroutine = 200
		const goroutines = 8

		results := make(chan string, perGoroutine*goroutines)
		for g := 0; g < goroutines; g++ {
			go func() {
				for i := 0; i < perGoroutine; i++ {
					results <- NewID()
				}
			}()
		}

		seen := make(map[string]bool, perGoroutine*goroutines)
		for i := 0; i < perGoroutine*goroutines; i++ {
			id := <-results
			if seen[id] {
				t.Fatalf("duplicate id %q", id)
			}
			seen[id] = true
		}
	})
}
