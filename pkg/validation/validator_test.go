package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPhone(t *testing.T) {
	tests := []struct {
		name   string
		phone  string
		expect bool
	}{
		{"afghan mobile", "+93700123456", true},
		{"us number", "+14155552671", true},
		{"short but valid", "+9370012", true},
		{"missing plus", "93700123456", false},
		{"leading zero", "+0700123456", false},
		{"too long", "+937001234567890", false},
		{"letters", "+9370012345a", false},
		{"empty", "", false},
		{"spaces", "+93 700 123 456", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, IsPhone(tt.phone))
		})
	}
}

func TestValidCoordinates(t *testing.T) {
	assert.True(t, ValidCoordinates(34.5553, 69.2075))
	assert.True(t, ValidCoordinates(-90, 180))
	assert.False(t, ValidCoordinates(90.1, 0))
	assert.False(t, ValidCoordinates(0, -180.5))
}
