package console

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionValid(t *testing.T) {
	testCases := []struct {
		name    string
		cookies map[string]string
		valid   bool
	}{
		{
			name:    "both cookies present",
			cookies: map[string]string{"console_session": "abc", "XSRF-TOKEN": "xyz"},
			valid:   true,
		},
		{
			name:    "missing xsrf cookie",
			cookies: map[string]string{"console_session": "abc"},
			valid:   false,
		},
		{
			name:    "missing session cookie",
			cookies: map[string]string{"XSRF-TOKEN": "xyz"},
			valid:   false,
		},
		{
			name:    "empty values",
			cookies: map[string]string{"console_session": "", "XSRF-TOKEN": "xyz"},
			valid:   false,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			sess := &Session{Cookies: test.cookies}
			require.Equal(t, test.valid, sess.Valid("console_session", "XSRF-TOKEN"))
		})
	}

	var nilSession *Session
	require.False(t, nilSession.Valid("console_session", "XSRF-TOKEN"))
}

func TestCookieHeaderDeterministic(t *testing.T) {
	sess := &Session{Cookies: map[string]string{
		"zeta":            "3",
		"console_session": "1",
		"XSRF-TOKEN":      "2",
	}}
	require.Equal(t, "XSRF-TOKEN=2; console_session=1; zeta=3", sess.CookieHeader())
}

func TestCSRFHeaderFallsBackToXSRF(t *testing.T) {
	sess := &Session{XSRFToken: "abc%3D%3D"}
	require.Equal(t, "abc==", sess.CSRFHeaderValue())

	sess.CSRFToken = "meta-token"
	require.Equal(t, "meta-token", sess.CSRFHeaderValue())
}

func TestSessionHolderPublishesSnapshots(t *testing.T) {
	holder := NewSessionHolder()
	require.Nil(t, holder.Current())

	first := &Session{Cookies: map[string]string{"a": "1"}}
	holder.Publish(first)
	require.Same(t, first, holder.Current())

	second := first.Clone()
	second.Cookies["a"] = "2"
	holder.Publish(second)
	require.Same(t, second, holder.Current())
	// the old snapshot is untouched
	require.Equal(t, "1", first.Cookies["a"])
}
