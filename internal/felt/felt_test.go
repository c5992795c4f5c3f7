package felt

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToDecimal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"zero", "0x0", "0"},
		{"small", "0x2a", "42"},
		{"large", "0xffffffffffffffffffffffffffffffff", "340282366920938463463374607431768211455"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToDecimal(FromHex(tt.input)))
		})
	}
}

func TestShortStringRoundtrip(t *testing.T) {
	tests := []string{"Quiz", "Cairo 101", "a"}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			assert.Equal(t, s, ToShortString(FromString(s)))
		})
	}
}

func TestToShortString_DropsNonPrintable(t *testing.T) {
	h := FromString("Quiz")
	// left padding is zero bytes and must not leak into the result
	assert.Equal(t, "Quiz", ToShortString(h))
}

func TestFromBigToBig(t *testing.T) {
	v := big.NewInt(123456789)
	assert.Equal(t, v.String(), ToBig(FromBig(v)).String())
}

func TestSelector(t *testing.T) {
	s := Selector("ExamCreated")
	// selectors are truncated to 250 bits
	assert.LessOrEqual(t, s[0], byte(0x03))
	assert.NotEqual(t, s, Selector("UserRegistered"))
	assert.Equal(t, s, Selector("ExamCreated"))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("0x2A", "0x2a"))
	assert.True(t, Equal("0x002a", "0x2a"))
	assert.False(t, Equal("0x2a", "0x2b"))
}
