package geohash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKnownValues(t *testing.T) {
	// canonical reference vector
	assert.Equal(t, "u4pruydqqvj", Encode(57.64911, 10.40744, 11))

	// prefix property: shorter precision is a prefix of longer
	full := Encode(34.5333, 69.1667, 9)
	assert.Equal(t, full[:6], Encode(34.5333, 69.1667, 6))
	assert.Equal(t, full[:4], Encode(34.5333, 69.1667, 4))
}

func TestEncodeDefaultPrecision(t *testing.T) {
	assert.Len(t, Encode(34.5333, 69.1667, 0), DefaultPrecision)
	assert.Len(t, Encode(34.5333, 69.1667, 99), DefaultPrecision)
}

func TestDecodeRoundTrip(t *testing.T) {
	points := [][2]float64{
		{34.5333, 69.1667},
		{40.7128, -74.0060},
		{-33.8688, 151.2093},
		{0, 0},
		{89.9, 179.9},
		{-89.9, -179.9},
	}

	for _, p := range points {
		h := Encode(p[0], p[1], 8)
		lat, lng := Decode(h)
		assert.Equal(t, h, Encode(lat, lng, 8), "midpoint of %q must re-encode to itself", h)
	}
}

func TestNeighborsKnownVector(t *testing.T) {
	got := Neighbors("dqcjq")
	require.Len(t, got, 9)
	assert.Equal(t, "dqcjq", got[0])
	assert.ElementsMatch(t, []string{
		"dqcjq",
		"dqcjw", "dqcjn", "dqcjr", "dqcjm",
		"dqcjx", "dqcjt", "dqcjp", "dqcjj",
	}, got)
}

func TestNeighborsBorderCarry(t *testing.T) {
	// "9z" sits on the eastern border of the "9" cell; the east neighbor
	// must carry into the parent.
	got := Neighbors("9z")
	assert.Contains(t, got, "dp")
}

func TestNeighborsShape(t *testing.T) {
	h := Encode(34.5333, 69.1667, 6)
	for _, n := range Neighbors(h) {
		assert.Len(t, n, len(h))
		for i := 0; i < len(n); i++ {
			assert.GreaterOrEqual(t, strings.IndexByte(Base32, n[i]), 0,
				"neighbor %q contains non-alphabet byte", n)
		}
	}
}

func TestNeighborsAdjacency(t *testing.T) {
	// nearby riders land inside the 9-tile fan-out, far riders do not
	driver := Encode(40.7128, -74.0060, 6)
	nearRider := Encode(40.7130, -74.0062, 6)
	farRider := Encode(34.0522, -118.2437, 6)

	fanout := Neighbors(driver)
	assert.Contains(t, fanout, nearRider)
	assert.NotContains(t, fanout, farRider)
}

func TestNeighborsEmpty(t *testing.T) {
	assert.Nil(t, Neighbors(""))
}
