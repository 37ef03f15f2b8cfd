package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSplitColon tests unescaped-colon splitting with backslash escapes
func TestSplitColon(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "plain fields",
			line: "e1000g0:phys:1500:up",
			want: []string{"e1000g0", "phys", "1500", "up"},
		},
		{
			name: "escaped mac address",
			line: `vnic0:igb0:1000:2\:8\:20\:ac\:7e\:b1:random:20`,
			want: []string{"vnic0", "igb0", "1000", "2:8:20:ac:7e:b1", "random", "20"},
		},
		{
			name: "escaped ipv6 address",
			line: `lo0/v6:static:ok:\:\:1/128`,
			want: []string{"lo0/v6", "static", "ok", "::1/128"},
		},
		{
			name: "trailing empty field",
			line: "a:b:",
			want: []string{"a", "b", ""},
		},
		{
			name: "escaped backslash",
			line: `a\\b:c`,
			want: []string{`a\b`, "c"},
		},
		{
			name: "dangling escape kept literal",
			line: `a:b\`,
			want: []string{"a", `b\`},
		},
		{
			name: "empty line is one empty field",
			line: "",
			want: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitColon(tt.line))
		})
	}
}

// TestLines tests blank-line and CR handling
func TestLines(t *testing.T) {
	out := "first\r\n\nsecond\n   \nthird\n"
	assert.Equal(t, []string{"first", "second", "third"}, Lines(out))

	// leading whitespace survives for column-format output
	assert.Equal(t, []string{"  padded"}, Lines("  padded\n"))
	assert.Empty(t, Lines(""))
	assert.Empty(t, Lines("\n\n"))
}

// TestIsAbsent tests the absent-value placeholders
func TestIsAbsent(t *testing.T) {
	assert.True(t, IsAbsent("--"))
	assert.True(t, IsAbsent("-"))
	assert.True(t, IsAbsent(""))
	assert.False(t, IsAbsent("0"))
	assert.False(t, IsAbsent("none"))
}

// TestIsHeaderField tests header keyword rejection
func TestIsHeaderField(t *testing.T) {
	for _, kw := range []string{"LINK", "CLASS", "STATE", "IPACKETS", "ADDROBJ", "SWAPFILE", "Destination"} {
		assert.True(t, IsHeaderField(kw), "keyword %s", kw)
	}
	assert.False(t, IsHeaderField("e1000g0"))
	assert.False(t, IsHeaderField("up"))
	assert.False(t, IsHeaderField("link"))
}

// TestCounter tests non-negative integer validation
func TestCounter(t *testing.T) {
	tests := []struct {
		field   string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"123456789", 123456789, false},
		{"9223372036854775807", 9223372036854775807, false},
		{"-1", 0, true},
		{"+1", 0, true},
		{"12a", 0, true},
		{"1.5", 0, true},
		{"", 0, true},
		{"--", 0, true},
		{"18446744073709551615", 0, true}, // overflows int64
	}

	for _, tt := range tests {
		v, err := Counter(tt.field)
		if tt.wantErr {
			assert.Error(t, err, "field %q", tt.field)
		} else {
			assert.NoError(t, err, "field %q", tt.field)
			assert.Equal(t, tt.want, v)
		}
	}
}

// TestOptionalCounter tests absent-tolerant counter parsing
func TestOptionalCounter(t *testing.T) {
	v, ok, err := OptionalCounter("--")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, v)

	v, ok, err = OptionalCounter("42")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)

	_, _, err = OptionalCounter("nope")
	assert.Error(t, err)
}

// TestResolveTruncated tests truncated link-name correlation
func TestResolveTruncated(t *testing.T) {
	known := []string{"e1000g123456789", "igb0", "vnic_web01_0"}

	tests := []struct {
		name string
		want string
	}{
		{"igb0", "igb0"},                       // exact
		{"e1000g1234", "e1000g123456789"},      // unique prefix
		{"vnic_web01_0", "vnic_web01_0"},       // exact with underscore
		{"xge0", ""},                           // unknown
		{"", ""},                               // empty
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveTruncated(tt.name, known), "name %q", tt.name)
	}

	// ambiguous prefix resolves to nothing
	amb := []string{"net0_long_a", "net0_long_b"}
	assert.Equal(t, "", ResolveTruncated("net0_long", amb))
}
