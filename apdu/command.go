package apdu

import (
	"bytes"
	"encoding/binary"
)

// Command struct represent the data sent as an APDU command with CLA, Ins, P1, P2, Lc, Data, and Le.
type Command struct {
	Cla        uint8
	Ins        uint8
	P1         uint8
	P2         uint8
	Data       []byte
	le         uint8
	requiresLe bool
}

// NewCommand returns a new apdu Command.
func NewCommand(cla, ins, p1, p2 uint8, data []byte) *Command {
	return &Command{
		Cla:  cla,
		Ins:  ins,
		P1:   p1,
		P2:   p2,
		Data: data,
	}
}

// SetLe sets the expected length of the response.
func (c *Command) SetLe(le uint8) {
	c.requiresLe = true
	c.le = le
}

// Le returns if Le is set and its value.
func (c *Command) Le() (bool, uint8) {
	return c.requiresLe, c.le
}

// Serialize serializes the command into a raw slice of bytes.
func (c *Command) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.BigEndian, []byte{c.Cla, c.Ins, c.P1, c.P2}); err != nil {
		return nil, err
	}

	if len(c.Data) > 0 {
		if err := buf.WriteByte(uint8(len(c.Data))); err != nil {
			return nil, err
		}

		if _, err := buf.Write(c.Data); err != nil {
			return nil, err
		}
	}

	if c.requiresLe {
		if err := buf.WriteByte(c.le); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}
