package redact

import (
	"strings"
	"testing"
)

func TestRedactEmailAndPhone(t *testing.T) {
	r := New(LevelBasic)
	in := "contact me at a@b.com or 555-123-4567"

	out := r.Redact(in)
	if strings.Contains(out, "a@b.com") || strings.Contains(out, "555-123-4567") {
		t.Fatalf("personal data left in %q", out)
	}
	if !strings.Contains(out, EmailPlaceholder) || !strings.Contains(out, PhonePlaceholder) {
		t.Fatalf("placeholders missing in %q", out)
	}
	if out != "contact me at [REDACTED_EMAIL] or [REDACTED_PHONE]" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRedactIdempotent(t *testing.T) {
	for _, level := range []Level{LevelBasic, LevelStrict} {
		r := New(level)
		inputs := []string{
			"contact me at a@b.com or 555-123-4567",
			"Call +1 (212) 555-0199 or mail John.Doe+tag@Example.ORG",
			"card 4111 1111 1111 1111 from 10.0.0.12",
			"nothing to see here",
		}
		for _, in := range inputs {
			once := r.Redact(in)
			if twice := r.Redact(once); twice != once {
				t.Fatalf("%s: redaction not idempotent: %q -> %q", level, once, twice)
			}
		}
	}
}

func TestRedactPhoneFormats(t *testing.T) {
	r := New(LevelBasic)
	for _, in := range []string{
		"555-123-4567",
		"(555) 123-4567",
		"555.123.4567",
		"+1 555 123 4567",
		"5551234567",
		"+15551234567",
		"15551234567",
		"1-555-123-4567",
		"+1 (555) 123-4567",
	} {
		if out := r.Redact("call " + in); out != "call "+PhonePlaceholder {
			t.Fatalf("phone %q not masked: %q", in, out)
		}
	}
}

func TestRedactCaseInsensitiveEmail(t *testing.T) {
	r := New(LevelBasic)
	if out := r.Redact("JANE@EXAMPLE.COM"); out != EmailPlaceholder {
		t.Fatalf("uppercase email not masked: %q", out)
	}
}

func TestStrictLevel(t *testing.T) {
	basic := New(LevelBasic)
	strict := New(LevelStrict)
	in := "card 4111-1111-1111-1111 host 192.168.1.20"

	if out := basic.Redact(in); strings.Contains(out, CardPlaceholder) || strings.Contains(out, IPPlaceholder) {
		t.Fatalf("basic level must not mask cards or ips: %q", out)
	}
	out := strict.Redact(in)
	if out != "card "+CardPlaceholder+" host "+IPPlaceholder {
		t.Fatalf("unexpected strict output %q", out)
	}
}

func TestStrictLevelKeepsAdjacentPhonesApart(t *testing.T) {
	r := New(LevelStrict)
	out := r.Redact("555-123-4567 555-123-4567")
	if out != PhonePlaceholder+" "+PhonePlaceholder {
		t.Fatalf("unexpected strict output %q", out)
	}
}

func TestPhoneNotMatchedInsideLongerNumber(t *testing.T) {
	r := New(LevelBasic)
	for _, in := range []string{"order 12345551234567", "id x5551234567"} {
		if out := r.Redact(in); out != in {
			t.Fatalf("unexpected mask in %q: %q", in, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel(""); err != nil || l != LevelBasic {
		t.Fatalf("expected basic default, got %q %v", l, err)
	}
	if l, err := ParseLevel("STRICT"); err != nil || l != LevelStrict {
		t.Fatalf("expected strict, got %q %v", l, err)
	}
	if _, err := ParseLevel("paranoid"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
