package session

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	bo := NewBackoff(time.Second, 60*time.Second)

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second, // capped
		60 * time.Second, // stays capped
	}

	for i, want := range expected {
		got := bo.Next()
		if got != want {
			t.Errorf("attempt %d: got %v, want %v", i, got, want)
		}
	}
}

func TestBackoffFixed(t *testing.T) {
	bo := NewBackoff(3*time.Second, 3*time.Second)
	for i := 0; i < 100; i++ {
		if got := bo.Next(); got != 3*time.Second {
			t.Fatalf("attempt %d: got %v", i, got)
		}
	}
}
