package config

import "testing"

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	c := DefaultConfig()

	if c.DedupeWindow.String() != "150ms" {
		t.Fatalf("DedupeWindow = %v, want 150ms", c.DedupeWindow)
	}
	if c.TombstoneTTL.Hours() != 7*24 {
		t.Fatalf("TombstoneTTL = %v, want 7 days", c.TombstoneTTL)
	}
	if c.DeleteSotOnInvalidate {
		t.Fatalf("DeleteSotOnInvalidate default should be false")
	}
	if !c.NamespaceInvalidationPrefixMatch {
		t.Fatalf("NamespaceInvalidationPrefixMatch default should be true")
	}
	if c.RetryQueue.MaxAttempts <= 0 {
		t.Fatalf("RetryQueue.MaxAttempts must be positive")
	}
}
