package util

import "testing"

func TestNormalizeAddress(t *testing.T) {
	good := map[string]string{
		"box@tmp.dev":           "box@tmp.dev",
		"  Box@TMP.Dev ":        "box@tmp.dev",
		"box@tmp.dev.":          "box@tmp.dev",
		"café@tmp.dev":     "café@tmp.dev",
		"café@tmp.dev":    "café@tmp.dev", // NFC composes e + combining acute
		"first.last+x@mail.box": "first.last+x@mail.box",
	}

	for in, want := range good {
		got, err := NormalizeAddress(in)
		if err != nil {
			t.Fatalf("NormalizeAddress(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("NormalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}

	bad := []string{
		"",
		"   ",
		"no-at-sign",
		"@tmp.dev",
		"box@",
		"box@.",
		string(make([]byte, 255)) + "@x",
	}

	for _, in := range bad {
		if _, err := NormalizeAddress(in); err == nil {
			t.Fatalf("NormalizeAddress(%q): expected error", in)
		}
	}
}

func TestAddressDomain(t *testing.T) {
	if d := AddressDomain("box@tmp.dev"); d != "tmp.dev" {
		t.Fatalf("AddressDomain: got %q", d)
	}
}
