package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtLeast(t *testing.T) {
	tests := []struct {
		name    string
		version string
		minimum string
		want    bool
	}{
		{"no minimum", "0.0.1", "", true},
		{"equal", "1.4.0", "1.4.0", true},
		{"newer patch", "v1.4.2", "1.4.0", true},
		{"older minor", "1.3.9", "1.4.0", false},
		{"invalid version", "latest", "1.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AtLeast(tt.version, tt.minimum))
		})
	}
}

func TestCurrent(t *testing.T) {
	old := Version
	defer func() { Version = old }()

	Version = "dev"
	assert.Equal(t, "dev", Current())

	Version = "2.1"
	assert.Equal(t, "2.1.0", Current())
}
