package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSprintfBasicVerbs(t *testing.T) {
	require.Equal(t, "42", Sprintf("%d", 42))
	require.Equal(t, "+42", Sprintf("%+d", 42))
	require.Equal(t, "2a", Sprintf("%x", 42))
	require.Equal(t, "0x2a", Sprintf("%#x", 42))
	require.Equal(t, "hello", Sprintf("%s", "hello"))
	require.Equal(t, "hel", Sprintf("%.3s", "hello"))
}

func TestSprintfWidthAndPadding(t *testing.T) {
	require.Equal(t, "  42", Sprintf("%4d", 42))
	require.Equal(t, "0042", Sprintf("%04d", 42))
	require.Equal(t, "42  ", Sprintf("%-4d", 42))
}

func TestSprintfCanonicalExtension(t *testing.T) {
	// a 16-bit value in hex canonically pads to 4 digits. The '@' extension
	// is parsed before the length modifier, so it comes first in the verb.
	require.Equal(t, "002a", Sprintf("%@hx", 42))
	// an 8-bit value in binary canonically pads to 8 digits.
	require.Equal(t, "00101010", Sprintf("%@hhb", 42))
}

func TestSprintfSISuffixExtension(t *testing.T) {
	got := Sprintf("%~d", 2048)
	require.Equal(t, "2.00K", got)
}

func TestSprintfLiteralPercent(t *testing.T) {
	require.Equal(t, "100%", Sprintf("100%%"))
}

func TestSprintfRejectsInvalidBase(t *testing.T) {
	require.Equal(t, "%!(BADBASE)", renderBase(spec{}, 5, 5))
}

func TestSprintfUnrecognizedVerbFallsBackToFmt(t *testing.T) {
	// 'v' collides with no length modifier or extended verb, so it falls
	// through to the default case and delegates straight to fmt.
	require.Equal(t, "true", Sprintf("%v", true))
}
