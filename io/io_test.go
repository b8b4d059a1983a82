package io

import (
	"errors"
	"testing"

	"github.com/status-im/keycard-custody/apdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transmitterFunc func([]byte) ([]byte, error)

func (f transmitterFunc) Transmit(raw []byte) ([]byte, error) {
	return f(raw)
}

func TestNormalChannelSend(t *testing.T) {
	var sent []byte
	c := NewNormalChannel(transmitterFunc(func(raw []byte) ([]byte, error) {
		sent = raw
		return []byte{0xAA, 0x90, 0x00}, nil
	}))

	resp, err := c.Send(apdu.NewCommand(0x80, 0xF2, 0x00, 0x00, []byte{0x01}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0xF2, 0x00, 0x00, 0x01, 0x01}, sent)
	assert.Equal(t, []byte{0xAA}, resp.Data)
	assert.True(t, resp.IsOK())
}

func TestNormalChannelTransportError(t *testing.T) {
	c := NewNormalChannel(transmitterFunc(func([]byte) ([]byte, error) {
		return nil, ErrTimeout
	}))

	_, err := c.Send(apdu.NewCommand(0x80, 0xF2, 0x00, 0x00, nil))
	assert.True(t, errors.Is(err, ErrTimeout))
}
