package tenant_test

import (
	"testing"

	"github.com/SandilyaSub/Receptionist/internal/tenant"
)

func TestLanguageCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "en-US"},
		{"english", "en-US"},
		{"English", "en-US"},
		{"  Telugu  ", "te-IN"},
		{"Hindi (India)", "hi-IN"},
		{"hi", "hi-IN"},
		{"ta", "ta-IN"},
		{"kannada", "kn-IN"},
		{"Mandarin Chinese", "cmn-CN"},
		{"en-GB", "en-GB"},
		{"TE-IN", "te-IN"},
		{"klingon", "en-US"},
	}
	for _, tc := range cases {
		if got := tenant.LanguageCode(tc.in); got != tc.want {
			t.Errorf("LanguageCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSupportedLanguageCode(t *testing.T) {
	if !tenant.SupportedLanguageCode("te-IN") {
		t.Error("te-IN must be supported")
	}
	if tenant.SupportedLanguageCode("xx-XX") {
		t.Error("xx-XX must not be supported")
	}
}
