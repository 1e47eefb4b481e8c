package wasmmodule

import "testing"

func TestU32RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 63, 64, 127, 128, 300, 1 << 20, 0x7fffffff, 0xffffffff}
	for _, v := range cases {
		buf := appendU32(nil, v)
		got, n, err := decodeU32(buf, 0)
		if err != nil {
			t.Fatalf("decodeU32(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("decodeU32 round trip: got %d, want %d", got, v)
		}
		if n != len(buf) {
			t.Fatalf("decodeU32 consumed %d bytes, want %d", n, len(buf))
		}
	}
}

func TestU64RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 1 << 40, 0xffffffffffffffff}
	for _, v := range cases {
		buf := appendU64(nil, v)
		got, n, err := decodeU64(buf, 0)
		if err != nil {
			t.Fatalf("decodeU64(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("decodeU64 round trip: got %d, want %d", got, v)
		}
		if n != len(buf) {
			t.Fatalf("decodeU64 consumed %d bytes, want %d", n, len(buf))
		}
	}
}

func TestS32RoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 63, -64, 64, -65, 1000000, -1000000, 2147483647, -2147483648}
	for _, v := range cases {
		buf := appendS32(nil, v)
		got, n, err := decodeS32(buf, 0)
		if err != nil {
			t.Fatalf("decodeS32(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("decodeS32 round trip: got %d, want %d", got, v)
		}
		if n != len(buf) {
			t.Fatalf("decodeS32 consumed %d bytes, want %d", n, len(buf))
		}
	}
}

func TestS64RoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 63, -64, 64, -65, 1 << 40, -(1 << 40), 9223372036854775807, -9223372036854775808}
	for _, v := range cases {
		buf := appendS64(nil, v)
		got, n, err := decodeS64(buf, 0)
		if err != nil {
			t.Fatalf("decodeS64(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("decodeS64 round trip: got %d, want %d", got, v)
		}
		if n != len(buf) {
			t.Fatalf("decodeS64 consumed %d bytes, want %d", n, len(buf))
		}
	}
}

func TestU32KnownEncodings(t *testing.T) {
	cases := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
	}
	for _, c := range cases {
		got := appendU32(nil, c.v)
		if string(got) != string(c.want) {
			t.Fatalf("appendU32(%d) = % x, want % x", c.v, got, c.want)
		}
	}
}

func TestS32KnownEncodings(t *testing.T) {
	cases := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-64, []byte{0x40}},
		{-65, []byte{0xbf, 0x7f}},
	}
	for _, c := range cases {
		got := appendS32(nil, c.v)
		if string(got) != string(c.want) {
			t.Fatalf("appendS32(%d) = % x, want % x", c.v, got, c.want)
		}
	}
}

func TestDecodeU32Truncated(t *testing.T) {
	if _, _, err := decodeU32([]byte{0x80}, 0); err != errLEB128Truncated {
		t.Fatalf("decodeU32 on truncated continuation byte: got %v, want errLEB128Truncated", err)
	}
	if _, _, err := decodeU32(nil, 0); err != errLEB128Truncated {
		t.Fatalf("decodeU32 on empty input: got %v, want errLEB128Truncated", err)
	}
}

func TestDecodeU32Overflow(t *testing.T) {
	// Six continuation bytes carrying non-zero bits past the 32nd bit.
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x02}
	if _, _, err := decodeU32(buf, 0); err != errLEB128Overflow {
		t.Fatalf("decodeU32 overflow: got %v, want errLEB128Overflow", err)
	}
}

func TestDecodeU32OffsetIntoLargerBuffer(t *testing.T) {
	buf := append([]byte{0xFF, 0xFF, 0xFF}, appendU32(nil, 300)...)
	got, n, err := decodeU32(buf, 3)
	if err != nil {
		t.Fatalf("decodeU32: %v", err)
	}
	if got != 300 {
		t.Fatalf("decodeU32 = %d, want 300", got)
	}
	if n != 2 {
		t.Fatalf("decodeU32 consumed %d bytes, want 2", n)
	}
}
