package clock

import (
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(epoch)

	if got := c.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}

	c.Advance(10 * time.Minute)
	want := epoch.Add(10 * time.Minute)
	if got := c.Now(); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}

	c.Set(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() after Set = %v, want %v", got, epoch)
	}
}

func TestSystemClockMonotonic(t *testing.T) {
	c := System()
	a := c.Now()
	b := c.Now()
	if b.Before(a) {
		t.Fatalf("system clock went backwards: %v then %v", a, b)
	}
}
