package validation

import (
	"strings"
	"testing"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"off_a1b2c3d4e5f60718293a4b5c", true},
		{"lst_000000000000000000000000", true},
		{"esc_ffffffffffffffffffffffff", true},

		// Invalid cases
		{"a1b2c3d4e5f60718293a4b5c", false},          // no prefix
		{"off_a1b2c3d4e5f60718293a4b", false},        // too short
		{"off_a1b2c3d4e5f60718293a4b5c00", false},    // too long
		{"OFF_a1b2c3d4e5f60718293a4b5c", false},      // upper prefix
		{"off_A1B2C3D4E5F60718293A4B5C", false},      // upper hex
		{"offer_a1b2c3d4e5f60718293a4b5c", false},    // long prefix
		{"off-a1b2c3d4e5f60718293a4b5c", false},      // wrong separator
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidID(tt.id); got != tt.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	valid := []string{"buyer@example.com", "a.b+c@sub.domain.io"}
	invalid := []string{"", "no-at-sign", "two@@example.com", "spaces in@example.com", "no@tld"}
	for _, s := range valid {
		if !IsValidEmail(s) {
			t.Errorf("IsValidEmail(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if IsValidEmail(s) {
			t.Errorf("IsValidEmail(%q) = true, want false", s)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello  ", 100); got != "hello" {
		t.Errorf("expected trimmed string, got %q", got)
	}
	if got := SanitizeString(strings.Repeat("a", 50), 10); len(got) != 10 {
		t.Errorf("expected truncation to 10, got %d", len(got))
	}
	if got := SanitizeString("a\x00b", 100); got != "ab" {
		t.Errorf("expected null bytes removed, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("title", ""),
		Required("body", "ok"),
		MaxLength("body", "ok", 10),
		PositiveAmount("amount", 0),
		NonNegativeAmount("price", -5),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "title" {
		t.Errorf("expected first error on title, got %s", errs[0].Field)
	}
	if errs.Error() != "title: is required" {
		t.Errorf("unexpected Error() output: %s", errs.Error())
	}
}

func TestValidIDSkipsEmpty(t *testing.T) {
	errs := Validate(ValidID("listing_id", ""))
	if len(errs) != 0 {
		t.Fatalf("empty value should not fail ValidID, got %v", errs)
	}
	errs = Validate(ValidID("listing_id", "bogus"))
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for malformed ID, got %d", len(errs))
	}
}
