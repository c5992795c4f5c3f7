package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_IsValid(t *testing.T) {
	for _, k := range AllKinds {
		assert.True(t, k.IsValid(), k)
	}
	assert.False(t, Kind("Transfer").IsValid())
	assert.False(t, Kind("").IsValid())
}

func TestPayload_Bool(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected bool
	}{
		{"zero is false", "0", false},
		{"one is true", "1", true},
		{"two is true", "2", true},
		{"arbitrary number is true", "184467", true},
		{"missing field is true", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Payload{}
			if tt.value != nil {
				p["passed"] = tt.value
			}
			assert.Equal(t, tt.expected, p.Bool("passed"))
		})
	}
}

func TestPayload_String(t *testing.T) {
	p := Payload{"examId": "42", "score": "85"}
	assert.Equal(t, "42", p.String("examId"))
	assert.Equal(t, "", p.String("missing"))
}

func TestPayload_IsRaw(t *testing.T) {
	assert.False(t, Payload{"examId": "42"}.IsRaw())
	assert.True(t, Payload{RawKeysField: []string{"0x01"}}.IsRaw())
}
