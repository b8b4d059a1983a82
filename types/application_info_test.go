package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseApplicationInfoInitialized(t *testing.T) {
	data := []byte{
		0xA4, 0x14,
		0x8F, 0x04, 0xDE, 0xAD, 0xBE, 0xEF,
		0x80, 0x03, 0x04, 0x01, 0x02,
		0x02, 0x02, 0x03, 0x01,
		0x02, 0x01, 0x04,
		0x8E, 0x00,
	}

	info, err := ParseApplicationInfo(data)
	require.NoError(t, err)
	assert.True(t, info.Installed)
	assert.True(t, info.Initialized)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, info.InstanceUID)
	assert.Equal(t, []byte{0x04, 0x01, 0x02}, info.PublicKey)
	assert.Equal(t, 4, info.FreePairingSlots())
	assert.Empty(t, info.KeyUID)
}

func TestParseApplicationInfoPreInitialized(t *testing.T) {
	info, err := ParseApplicationInfo([]byte{0x80, 0x02, 0x04, 0x05})
	require.NoError(t, err)
	assert.True(t, info.Installed)
	assert.False(t, info.Initialized)
	assert.Equal(t, []byte{0x04, 0x05}, info.PublicKey)
	assert.Equal(t, 0, info.FreePairingSlots())
}

func TestParseApplicationInfoWrongTemplate(t *testing.T) {
	_, err := ParseApplicationInfo([]byte{0x99, 0x00})
	assert.Equal(t, ErrWrongApplicationInfoTemplate, err)
}
