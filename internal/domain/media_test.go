package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseScalabilityMode(t *testing.T) {
	for mode, want := range map[string][2]int{
		"S3T3":     {3, 3},
		"L1T3_KEY": {1, 3},
		"L2T1":     {2, 1},
		"":         {1, 1},
		"garbage":  {1, 1},
	} {
		s, tl := ParseScalabilityMode(mode)
		assert.Equal(t, want, [2]int{s, tl}, mode)
	}
}

func TestVolumeFromDB(t *testing.T) {
	assert.Equal(t, 10, VolumeFromDB(0))
	assert.Equal(t, 6, VolumeFromDB(-20))
	assert.Equal(t, 0, VolumeFromDB(-100))
}

func TestSmoothVolume(t *testing.T) {
	_, ok := SmoothVolume(-50, -50.3)
	assert.False(t, ok, "small changes are not published")

	v, ok := SmoothVolume(-50, -40)
	assert.True(t, ok)
	assert.Equal(t, -40.0, v)

	v, ok = SmoothVolume(-20, -60)
	assert.True(t, ok)
	assert.InDelta(t, -22.5, v, 1e-9)

	v, ok = SmoothVolume(-10, 12)
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestValidateDisplayName(t *testing.T) {
	assert.ErrorIs(t, ValidateDisplayName(""), ErrDisplayNameEmpty)
	assert.ErrorIs(t, ValidateDisplayName(string(make([]byte, MaxDisplayNameLen+1))), ErrDisplayNameTooLong)
	assert.NoError(t, ValidateDisplayName("Alice"))
}

func TestConsumerVisibility(t *testing.T) {
	c := Consumer{SpatialLayers: 3}
	assert.True(t, c.Visible())
	assert.False(t, c.Simple())
	c.RemotelyPaused = true
	assert.False(t, c.Visible())
	assert.True(t, (&Consumer{Type: "simple", SpatialLayers: 3}).Simple())
}
