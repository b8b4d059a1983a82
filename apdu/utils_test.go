package apdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindTag(t *testing.T) {
	data := []byte{
		0xA4, 0x0C,
		0x8F, 0x02, 0x01, 0x02,
		0x02, 0x01, 0x05,
		0x02, 0x01, 0x03,
		0x8E, 0x00,
	}

	uid, err := FindTag(data, 0xA4, 0x8F)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, uid)

	version, err := FindTag(data, 0xA4, 0x02)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, version)

	slots, err := FindTagN(data, 1, 0xA4, 0x02)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, slots)

	keyUID, err := FindTag(data, 0xA4, 0x8E)
	require.NoError(t, err)
	assert.Empty(t, keyUID)

	_, err = FindTag(data, 0xA4, 0x99)
	assert.IsType(t, &ErrTagNotFound{}, err)
}

func TestFindTagLongLength(t *testing.T) {
	value := make([]byte, 0x90)
	value[0] = 0xAB
	data := append([]byte{0x80, 0x81, 0x90}, value...)

	found, err := FindTag(data, 0x80)
	require.NoError(t, err)
	assert.Len(t, found, 0x90)
	assert.Equal(t, uint8(0xAB), found[0])
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse([]byte{0x01, 0x02, 0x90, 0x00})
	require.NoError(t, err)
	assert.True(t, resp.IsOK())
	assert.Equal(t, []byte{0x01, 0x02}, resp.Data)

	resp, err = ParseResponse([]byte{0x63, 0xC2})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x63C2), resp.Sw)
	assert.Empty(t, resp.Data)

	_, err = ParseResponse([]byte{0x90})
	assert.Equal(t, ErrBadRawResponse, err)
}

func TestCommandSerialize(t *testing.T) {
	cmd := NewCommand(0x80, 0x20, 0x00, 0x00, []byte("123456"))
	raw, err := cmd.Serialize()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x20, 0x00, 0x00, 0x06, '1', '2', '3', '4', '5', '6'}, raw)

	cmd = NewCommand(0x00, 0xA4, 0x04, 0x00, nil)
	cmd.SetLe(0)
	raw, err = cmd.Serialize()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xA4, 0x04, 0x00, 0x00}, raw)
}
