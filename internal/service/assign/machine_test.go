package assign

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMachinesCompatible(t *testing.T) {
	cases := []struct {
		name     string
		required string
		machines []string
		want     bool
	}{
		{"exact match", "overlock", []string{"overlock"}, true},
		{"synonym", "overlock", []string{"serger"}, true},
		{"synonym reversed", "serger", []string{"overlock"}, true},
		{"multi machine", "bartack", []string{"multi"}, true},
		{"case and spacing", "Single Needle", []string{"lockstitch"}, true},
		{"hyphenated", "feed-of-arm", []string{"feed_off_arm"}, true},
		{"no overlap", "bartack", []string{"overlock", "flatlock"}, false},
		{"empty set", "overlock", nil, false},
		{"unknown type exact only", "embroidery", []string{"embroidery"}, true},
		{"unknown type no match", "embroidery", []string{"overlock"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, machinesCompatible(tc.required, tc.machines))
		})
	}
}

func TestNormalizeMachine(t *testing.T) {
	assert.Equal(t, "single_needle", normalizeMachine("  Single Needle "))
	assert.Equal(t, "feed_of_arm", normalizeMachine("Feed-of-Arm"))
}
