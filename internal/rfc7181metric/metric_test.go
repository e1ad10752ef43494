package rfc7181metric

import (
	"sort"
	"testing"
)

func representableValues() []int {
	seen := map[int]bool{}
	var vals []int
	for exponent := 0; exponent < 16; exponent++ {
		for mantissa := 0; mantissa < 16; mantissa++ {
			v := Decode(uint8(mantissa<<4 | exponent))
			if !seen[v] {
				seen[v] = true
				vals = append(vals, v)
			}
		}
	}
	sort.Ints(vals)
	return vals
}

func TestEncodeDecodeRoundTripIsLargestNotAbove(t *testing.T) {
	vals := representableValues()

	// Sample across the full range instead of exhaustively to keep the
	// test fast; every representable value plus every midpoint between
	// consecutive representable values is checked.
	samples := make([]int, 0, 2*len(vals))
	samples = append(samples, vals...)
	for i := 0; i+1 < len(vals); i++ {
		mid := (vals[i] + vals[i+1]) / 2
		if mid > vals[i] {
			samples = append(samples, mid)
		}
	}

	for _, m := range samples {
		if m < Min || m > MaxEncodable {
			continue
		}
		decoded := Decode(Encode(m))
		if decoded > m {
			t.Fatalf("decode(encode(%d)) = %d, want <= %d", m, decoded, m)
		}
		// the largest representable value <= m
		want := vals[0]
		for _, v := range vals {
			if v <= m {
				want = v
			} else {
				break
			}
		}
		if decoded != want {
			t.Fatalf("decode(encode(%d)) = %d, want %d (largest representable <= %d)", m, decoded, want, m)
		}
	}
}

func TestClampBounds(t *testing.T) {
	if Clamp(-5) != Min {
		t.Fatalf("expected clamp to Min")
	}
	if Clamp(MaxEncodable+1000) != MaxEncodable {
		t.Fatalf("expected clamp to MaxEncodable")
	}
}
