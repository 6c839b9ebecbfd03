package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice_EquivalentEncodingsShareOneKey(t *testing.T) {
	// one logical price must never split into two map keys
	for _, s := range []string{"100", "100.0", "100.00", "1e2", "100.000000"} {
		p, err := ParsePrice(s, 8)
		require.NoError(t, err, s)
		assert.Equal(t, Price(10000000000), p, s)
	}
}

func TestParsePrice_Malformed(t *testing.T) {
	_, err := ParsePrice("not-a-number", 8)
	assert.ErrorIs(t, err, ErrMalformedLevel)
}

func TestPrice_FormatRoundTrip(t *testing.T) {
	p, err := ParsePrice("100.25", 2)
	require.NoError(t, err)
	assert.Equal(t, Price(10025), p)
	assert.Equal(t, "100.25", p.Format(2))
	assert.Equal(t, 100.25, p.Float64(2))
}

func TestParseSize(t *testing.T) {
	size, err := ParseSize("3.5")
	require.NoError(t, err)
	assert.Equal(t, 3.5, size)

	_, err = ParseSize("-1")
	assert.ErrorIs(t, err, ErrMalformedLevel)

	_, err = ParseSize("abc")
	assert.ErrorIs(t, err, ErrMalformedLevel)
}
