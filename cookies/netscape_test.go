package cookies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeParse(t *testing.T) {
	in := []Cookie{
		{Domain: ".youtube.com", Path: "/", Secure: true, Expires: 1767225600, Name: "PREF", Value: "f6=40000000"},
		{Domain: ".youtube.com", Path: "/", Secure: true, HTTPOnly: true, Expires: 1767225600, Name: "__Secure-3PSID", Value: "abc"},
		{Domain: "www.youtube.com", Name: "VISITOR_INFO1_LIVE", Value: "xyz"},
	}
	data := Serialize(in)
	assert.Contains(t, string(data), "# Netscape HTTP Cookie File")
	assert.Contains(t, string(data), "#HttpOnly_.youtube.com\tTRUE\t/\tTRUE\t1767225600\t__Secure-3PSID\tabc\n")
	assert.Contains(t, string(data), "www.youtube.com\tFALSE\t/\tFALSE\t0\tVISITOR_INFO1_LIVE\txyz\n")

	out, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, in[1], out[1])
	assert.Equal(t, "/", out[2].Path)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("# Netscape HTTP Cookie File\n\n# comment only\n"))
	assert.ErrorIs(t, err, ErrNoCookies)

	_, err = Parse([]byte(".youtube.com\tTRUE\t/\tTRUE\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = Parse([]byte(".youtube.com\tTRUE\t/\tTRUE\tsoon\tA\tB\n"))
	assert.ErrorContains(t, err, "bad expiry")

	cookies, err := Parse([]byte(".youtube.com\tTRUE\t/\tTRUE\t0\tA\tB\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "B", cookies[0].Value)
}

func TestIsChallengeURL(t *testing.T) {
	assert.True(t, IsChallengeURL("https://accounts.google.com/v3/signin/challenge/ipp?TL=x"))
	assert.True(t, IsChallengeURL("https://accounts.google.com/signin/rejected"))
	assert.False(t, IsChallengeURL("https://www.youtube.com/"))
}
