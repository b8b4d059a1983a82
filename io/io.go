// Package io provides the raw channel between the host and a physical card.
package io

import (
	"errors"

	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-custody/apdu"
)

var logger = log.New("package", "keycard-custody/io")

// Transport level causes. Transmitter implementations should return (or wrap) these
// so that callers can tell a dropped link from a card refusing a command.
var (
	ErrTimeout   = errors.New("card session timed out")
	ErrCancelled = errors.New("card session cancelled by the user")
	ErrBusy      = errors.New("card reader busy")
)

// Transmitter defines an interface with one method to transmit raw commands and receive raw responses.
type Transmitter interface {
	Transmit([]byte) ([]byte, error)
}

// NormalChannel implements types.Channel sending plain apdu commands over a Transmitter.
type NormalChannel struct {
	t Transmitter
}

// NewNormalChannel returns a new NormalChannel that sends commands to Transmitter t.
func NewNormalChannel(t Transmitter) *NormalChannel {
	return &NormalChannel{t}
}

// Send sends apdu commands to the current Transmitter.
func (c *NormalChannel) Send(cmd *apdu.Command) (*apdu.Response, error) {
	rawCmd, err := cmd.Serialize()
	if err != nil {
		return nil, err
	}

	logger.Debug("apdu command", "cla", cmd.Cla, "ins", cmd.Ins, "p1", cmd.P1, "p2", cmd.P2)
	rawResp, err := c.t.Transmit(rawCmd)
	if err != nil {
		return nil, err
	}

	resp, err := apdu.ParseResponse(rawResp)
	if err != nil {
		return nil, err
	}

	logger.Debug("apdu response", "sw", resp.Sw)

	return resp, nil
}
