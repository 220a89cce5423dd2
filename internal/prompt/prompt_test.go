package prompt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/releaser/internal/domain/release"
)

// TestConfirm covers explicit answers, defaults and retries.
func TestConfirm(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		input    string
		def      bool
		expected bool
	}{
		{name: "yes", input: "yes\n", def: false, expected: true},
		{name: "upper case no", input: "NO\n", def: true, expected: false},
		{name: "empty uses default", input: "\n", def: true, expected: true},
		{name: "eof uses default", input: "", def: false, expected: false},
		{name: "retry after garbage", input: "maybe\ny\n", def: false, expected: true},
		{name: "last line without newline", input: "1", def: false, expected: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer

			answer, err := New(strings.NewReader(tc.input), &out, false).Confirm("Proceed?", tc.def)
			require.NoError(t, err)
			require.Equal(t, tc.expected, answer)
			require.Contains(t, out.String(), "Proceed?")
		})
	}
}

// TestConfirmInvalidAtEOF checks that garbage on the last line is reported.
func TestConfirmInvalidAtEOF(t *testing.T) {
	t.Parallel()

	_, err := New(strings.NewReader("perhaps"), &bytes.Buffer{}, false).Confirm("Proceed?", true)
	require.ErrorIs(t, err, release.ErrConfigParse)
}

// TestAssumeYes checks that defaults are taken without reading input.
func TestAssumeYes(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	p := New(strings.NewReader("no\nv9.9.9\n"), &out, true)

	answer, err := p.Confirm("Tag this release?", true)
	require.NoError(t, err)
	require.True(t, answer)

	tag, err := p.Ask("Tag:", "v1.2.4")
	require.NoError(t, err)
	require.Equal(t, "v1.2.4", tag)
	require.Contains(t, out.String(), "v1.2.4")
}

// TestAsk covers overrides and defaults.
func TestAsk(t *testing.T) {
	t.Parallel()

	p := New(strings.NewReader("v2.0.0\n\n"), &bytes.Buffer{}, false)

	answer, err := p.Ask("Tag:", "v1.0.1")
	require.NoError(t, err)
	require.Equal(t, "v2.0.0", answer)

	answer, err = p.Ask("Tag:", "v1.0.1")
	require.NoError(t, err)
	require.Equal(t, "v1.0.1", answer)
}

// TestShow checks that printed blocks end with a newline.
func TestShow(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	New(strings.NewReader(""), &out, false).Show("Diff", "+added")
	require.Contains(t, out.String(), "Diff")
	require.True(t, strings.HasSuffix(out.String(), "+added\n"))
}
