package hub

import "testing"

func TestEnsureVAPIDKeysGeneratesOnce(t *testing.T) {
	t.Setenv("CURSOR_RELAY_DIR", t.TempDir())

	pub1, priv1, generated, err := EnsureVAPIDKeys("mailto:a@example.com")
	if err != nil {
		t.Fatalf("EnsureVAPIDKeys() error = %v", err)
	}
	if !generated {
		t.Fatal("first call generated = false, want true")
	}
	if pub1 == "" || priv1 == "" {
		t.Fatal("generated keys are empty")
	}

	pub2, priv2, generated, err := EnsureVAPIDKeys("mailto:a@example.com")
	if err != nil {
		t.Fatalf("EnsureVAPIDKeys() second call error = %v", err)
	}
	if generated {
		t.Fatal("second call generated = true, want reuse")
	}
	if pub2 != pub1 || priv2 != priv1 {
		t.Fatal("keys changed between calls; existing subscriptions would break")
	}
}

func TestEnsureVAPIDKeysSurvivesSubjectChange(t *testing.T) {
	t.Setenv("CURSOR_RELAY_DIR", t.TempDir())

	pub1, priv1, _, err := EnsureVAPIDKeys("mailto:a@example.com")
	if err != nil {
		t.Fatalf("EnsureVAPIDKeys() error = %v", err)
	}

	pub2, priv2, generated, err := EnsureVAPIDKeys("mailto:b@example.com")
	if err != nil {
		t.Fatalf("EnsureVAPIDKeys() with new subject error = %v", err)
	}
	if generated {
		t.Fatal("subject change regenerated keys, want reuse")
	}
	if pub2 != pub1 || priv2 != priv1 {
		t.Fatal("subject change rotated keys; existing subscriptions would break")
	}
}
