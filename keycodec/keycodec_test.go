package keycodec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/points-engine/keycodec"
)

func TestToKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"A@B.com", "a@b,com"},
		{"  Jane.Doe@Example.COM ", "jane,doe@example,com"},
		{"no-dots@host", "no-dots@host"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keycodec.ToKey(tt.in), "ToKey(%q)", tt.in)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, email := range []string{"a@b.com", "first.last@sub.example.org", "x@y"} {
		assert.Equal(t, email, keycodec.ToIdentifier(keycodec.ToKey(email)))
	}
}

func TestRoundTrip_CommaInputIsLossy(t *testing.T) {
	// GIVEN: an identifier that already contains a comma
	// THEN: the inverse turns it into a dot
	assert.Equal(t, "a.b@c.d", keycodec.ToIdentifier(keycodec.ToKey("a,b@c.d")))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "a", keycodec.DisplayName("A@B.com"))
	assert.Equal(t, "User", keycodec.DisplayName("@b.com"))
	assert.Equal(t, "User", keycodec.DisplayName(""))
	assert.Equal(t, "plain", keycodec.DisplayName("plain"))
}
