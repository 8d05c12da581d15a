package decimal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToRaw(t *testing.T) {
	cases := []struct {
		human    string
		decimals int
		want     string
	}{
		{"1.5", 18, "1500000000000000000"},
		{"0", 18, "0"},
		{"1", 0, "1"},
		{"0.000001", 6, "1"},
		{"-2.5", 2, "-250"},
		{".5", 1, "5"},
	}
	for _, c := range cases {
		got, err := ToRaw(c.human, c.decimals)
		assert.NoError(t, err)
		assert.Equal(t, c.want, got, "ToRaw(%q, %d)", c.human, c.decimals)
	}
}

func TestToRaw_TooManyFractionalDigits(t *testing.T) {
	_, err := ToRaw("1.23456789", 4)
	assert.Error(t, err)
}

func TestToRaw_Invalid(t *testing.T) {
	_, err := ToRaw("not-a-number", 18)
	assert.Error(t, err)
}

func TestFromRaw(t *testing.T) {
	cases := []struct {
		raw      string
		decimals int
		want     string
	}{
		{"1500000000000000000", 18, "1.5"},
		{"1", 6, "0.000001"},
		{"100", 2, "1"},
		{"-250", 2, "-2.5"},
		{"0", 18, "0"},
	}
	for _, c := range cases {
		got, err := FromRaw(c.raw, c.decimals)
		assert.NoError(t, err)
		assert.Equal(t, c.want, got, "FromRaw(%q, %d)", c.raw, c.decimals)
	}
}

func TestRoundTrip(t *testing.T) {
	raw, err := ToRaw("123.456", 18)
	assert.NoError(t, err)
	human, err := FromRaw(raw, 18)
	assert.NoError(t, err)
	assert.Equal(t, "123.456", human)
}
