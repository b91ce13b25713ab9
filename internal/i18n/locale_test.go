package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLocale(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"de", "de"},
		{"de-DE", "de"},
		{"de-AT,de;q=0.9,en;q=0.8", "de"},
		{"fr-FR,fr;q=0.9", "en"},
		{"EN-us", "en"},
		{"fr, de;q=0.5", "de"},
		{" ;q=0.5", "en"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeLocale(tc.header), "header %q", tc.header)
	}
}

func TestVerificationEmailRendersLink(t *testing.T) {
	t.Parallel()

	content := VerificationEmail("en", "https://app.example/auth/verify/email?token=abc", 1)
	assert.Contains(t, content.Text, "https://app.example/auth/verify/email?token=abc")
	assert.Contains(t, content.Text, "1 hour(s)")
	assert.Contains(t, content.HTML, "href=\"https://app.example/auth/verify/email?token=abc\"")

	german := VerificationEmail("de", "https://app.example/x", 1)
	assert.NotEqual(t, content.Subject, german.Subject)
}

func TestSignInAlertEmailFallbacks(t *testing.T) {
	t.Parallel()

	content := SignInAlertEmail("en", "a@x.com", "Mon, 01 Jan 2026 00:00:00 UTC", "203.0.113.7", "", "")
	assert.Contains(t, content.Text, "Unknown location")
	assert.Contains(t, content.Text, "Unknown device")
	assert.Contains(t, content.Text, "a@x.com")
}
