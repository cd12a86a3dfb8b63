package config

import "testing"

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config should validate cleanly, got %v", errs)
	}
}

func TestValidateClampsUnknownMode(t *testing.T) {
	cfg := Default()
	cfg.Mode = "aggressive"

	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Fatal("expected error for unknown mode")
	}
	if cfg.Mode != ModeDefault {
		t.Fatalf("mode should be reset to default, got %q", cfg.Mode)
	}
}

func TestValidateClampsUnknownTarget(t *testing.T) {
	cfg := Default()
	cfg.Target = "everyone"

	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Fatal("expected error for unknown target")
	}
	if cfg.Target != TargetSystem {
		t.Fatalf("target should be reset to system, got %q", cfg.Target)
	}
}

func TestValidateRejectsNonHTTPScheme(t *testing.T) {
	cfg := Default()
	cfg.UpdateURL = "ftp://updates.example.com"

	if errs := cfg.Validate(); len(errs) == 0 {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestValidateDoesNotRejectMalformedFeedURL(t *testing.T) {
	// A malformed feed URL must reach the state machine so it can
	// surface as a Disabled(invalid-configuration) state.
	cfg := Default()
	cfg.UpdateURL = "://not-a-url"

	for _, err := range cfg.Validate() {
		t.Fatalf("malformed URL should pass config validation, got %v", err)
	}
}

func TestValidateEmptyQuality(t *testing.T) {
	cfg := Default()
	cfg.Quality = ""

	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Fatal("expected error for empty quality")
	}
	if cfg.Quality != "stable" {
		t.Fatalf("quality should default to stable, got %q", cfg.Quality)
	}
}
