// Package geohash implements base32 geohash encoding and the row-carrying
// neighbor algorithm used to key spatial broadcast rooms.
package geohash

import "strings"

// Base32 is the geohash alphabet (no a, i, l, o).
const Base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// DefaultPrecision yields tiles of roughly 1.2km x 0.6km.
const DefaultPrecision = 6

type direction int

const (
	north direction = iota
	south
	east
	west
)

// Neighbor/border lookup tables indexed by [direction][even/odd].
// Even means an even-length hash (longitude bit first in the next cell).
var neighborTable = [4][2]string{
	north: {"p0r21436x8zb9dcf5h7kjnmqesgutwvy", "bc01fg45238967deuvhjyznpkmstqrwx"},
	south: {"14365h7k9dcfesgujnmqp0r2twvyx8zb", "238967debc01fg45kmstqrwxuvhjyznp"},
	east:  {"bc01fg45238967deuvhjyznpkmstqrwx", "p0r21436x8zb9dcf5h7kjnmqesgutwvy"},
	west:  {"238967debc01fg45kmstqrwxuvhjyznp", "14365h7k9dcfesgujnmqp0r2twvyx8zb"},
}

var borderTable = [4][2]string{
	north: {"prxz", "bcfguvyz"},
	south: {"028b", "0145hjnp"},
	east:  {"bcfguvyz", "prxz"},
	west:  {"0145hjnp", "028b"},
}

// Encode returns the geohash of (lat, lng) at the given precision.
// Precision outside [1,12] falls back to DefaultPrecision.
func Encode(lat, lng float64, precision int) string {
	if precision < 1 || precision > 12 {
		precision = DefaultPrecision
	}

	latMin, latMax := -90.0, 90.0
	lngMin, lngMax := -180.0, 180.0

	var sb strings.Builder
	sb.Grow(precision)

	evenBit := true // alternate lng/lat bits, lng first
	idx := 0
	bit := 0

	for sb.Len() < precision {
		if evenBit {
			mid := (lngMin + lngMax) / 2
			if lng >= mid {
				idx = idx*2 + 1
				lngMin = mid
			} else {
				idx = idx * 2
				lngMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if lat >= mid {
				idx = idx*2 + 1
				latMin = mid
			} else {
				idx = idx * 2
				latMax = mid
			}
		}
		evenBit = !evenBit

		bit++
		if bit == 5 {
			sb.WriteByte(Base32[idx])
			bit = 0
			idx = 0
		}
	}

	return sb.String()
}

// Decode returns the midpoint of the hash's bounding box.
func Decode(hash string) (lat, lng float64) {
	latMin, latMax, lngMin, lngMax := bounds(hash)
	return (latMin + latMax) / 2, (lngMin + lngMax) / 2
}

// bounds returns the bounding box of a hash.
func bounds(hash string) (latMin, latMax, lngMin, lngMax float64) {
	latMin, latMax = -90.0, 90.0
	lngMin, lngMax = -180.0, 180.0

	evenBit := true
	for i := 0; i < len(hash); i++ {
		idx := strings.IndexByte(Base32, hash[i])
		if idx < 0 {
			continue
		}
		for n := 4; n >= 0; n-- {
			bit := (idx >> uint(n)) & 1
			if evenBit {
				mid := (lngMin + lngMax) / 2
				if bit == 1 {
					lngMin = mid
				} else {
					lngMax = mid
				}
			} else {
				mid := (latMin + latMax) / 2
				if bit == 1 {
					latMin = mid
				} else {
					latMax = mid
				}
			}
			evenBit = !evenBit
		}
	}
	return
}

// adjacent returns the hash of the tile bordering h in dir, carrying into
// the parent cell when h sits on a border.
func adjacent(h string, dir direction) string {
	if h == "" {
		return ""
	}

	last := h[len(h)-1]
	parent := h[:len(h)-1]
	parity := len(h) % 2 // 0 = even length, 1 = odd

	if strings.IndexByte(borderTable[dir][parity], last) >= 0 && parent != "" {
		parent = adjacent(parent, dir)
		if parent == "" {
			return ""
		}
	}

	pos := strings.IndexByte(neighborTable[dir][parity], last)
	if pos < 0 {
		return ""
	}
	return parent + string(Base32[pos])
}

// Neighbors returns the hash itself plus its 8 surrounding tiles:
// N, S, E, W, NE, NW, SE, SW. Tiles that fall off the poles are omitted.
func Neighbors(hash string) []string {
	if hash == "" {
		return nil
	}

	n := adjacent(hash, north)
	s := adjacent(hash, south)
	e := adjacent(hash, east)
	w := adjacent(hash, west)

	candidates := []string{
		hash,
		n, s, e, w,
		adjacent(n, east), adjacent(n, west),
		adjacent(s, east), adjacent(s, west),
	}

	out := make([]string, 0, 9)
	for _, c := range candidates {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
