package ids

import (
	"testing"
	"time"
)

func TestNewGenerationMonotonic(t *testing.T) {
	now := time.Now()
	a := NewGeneration(now)
	b := NewGeneration(now)
	if !(a < b) {
		t.Fatalf("expected %s < %s", a, b)
	}
}
