package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleVolume(t *testing.T) {
	tests := []struct {
		name     string
		volume   float64
		input    []byte
		expected []byte
	}{
		{
			name:     "full volume passthrough",
			volume:   1.0,
			input:    []byte{0x00, 0x10, 0xFF, 0x7F},
			expected: []byte{0x00, 0x10, 0xFF, 0x7F},
		},
		{
			name:     "half volume",
			volume:   0.5,
			input:    []byte{0x00, 0x10, 0xFE, 0x7F}, // 4096, 32766
			expected: []byte{0x00, 0x08, 0xFF, 0x3F}, // 2048, 16383
		},
		{
			name:     "zero volume",
			volume:   0.0,
			input:    []byte{0xFF, 0x7F, 0x00, 0x80},
			expected: []byte{0x00, 0x00, 0x00, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]byte(nil), tt.input...)
			scaleVolume(data, tt.volume)
			assert.Equal(t, tt.expected, data)
		})
	}
}

func TestOutputVolumeClamp(t *testing.T) {
	o := newOtoOutput(DefaultFormat)

	o.SetVolume(-0.5)
	assert.Equal(t, 0.0, o.Volume())
	o.SetVolume(1.5)
	assert.Equal(t, 1.0, o.Volume())
	o.SetVolume(0.75)
	assert.Equal(t, 0.75, o.Volume())
}

func TestOutputReadWrite(t *testing.T) {
	o := newOtoOutput(DefaultFormat)
	o.SetVolume(0.5)

	_, err := o.Write([]byte{0x00, 0x10, 0x00, 0x10})
	require.NoError(t, err)
	assert.Equal(t, 4, o.Buffered())

	buf := make([]byte, 4)
	n, err := o.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0x00, 0x08, 0x00, 0x08}, buf)

	// underrun yields silence, not EOF
	buf = []byte{1, 2, 3, 4}
	n, err = o.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestOutputFlushAndClose(t *testing.T) {
	o := newOtoOutput(DefaultFormat)
	_, err := o.Write(make([]byte, 64))
	require.NoError(t, err)

	o.Pause()
	o.Flush()
	assert.Zero(t, o.Buffered())

	require.NoError(t, o.Close())
	_, err = o.Read(make([]byte, 4))
	assert.Error(t, err)
	_, err = o.Write([]byte{0, 0})
	assert.Error(t, err)
}
