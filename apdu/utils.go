package apdu

import (
	"bytes"
	"fmt"
	"io"
)

// ErrTagNotFound is an error returned if a tag is not found in a TLV sequence.
type ErrTagNotFound struct {
	tag uint8
}

// Error implements the error interface
func (e *ErrTagNotFound) Error() string {
	return fmt.Sprintf("tag %x not found", e.tag)
}

// FindTag searches for a tag value within a TLV sequence.
func FindTag(raw []byte, tags ...uint8) ([]byte, error) {
	return findTag(raw, 0, tags...)
}

// FindTagN searches for a tag value within a TLV sequence and returns the n occurrence
func FindTagN(raw []byte, n int, tags ...uint8) ([]byte, error) {
	return findTag(raw, n, tags...)
}

func findTag(raw []byte, occurrence int, tags ...uint8) ([]byte, error) {
	if len(tags) == 0 {
		return raw, nil
	}

	target := tags[0]
	buf := bytes.NewBuffer(raw)

	for {
		tag, err := buf.ReadByte()
		switch {
		case err == io.EOF:
			return []byte{}, &ErrTagNotFound{target}
		case err != nil:
			return nil, err
		}

		length, err := parseTLVLength(buf)
		if err != nil {
			return nil, err
		}

		data := buf.Next(length)
		if len(data) != length {
			return nil, io.ErrUnexpectedEOF
		}

		if tag != target {
			continue
		}

		// the occurrence counter only applies to the last tag of the search path
		if len(tags) == 1 && occurrence > 0 {
			occurrence--
			continue
		}

		if len(tags) == 1 {
			return data, nil
		}

		return findTag(data, occurrence, tags[1:]...)
	}
}

// parseTLVLength reads a BER length: one byte below 0x80, or 0x81/0x82 followed by the length bytes.
func parseTLVLength(buf *bytes.Buffer) (int, error) {
	b, err := buf.ReadByte()
	if err != nil {
		return 0, err
	}

	switch b {
	case 0x81:
		l, err := buf.ReadByte()
		if err != nil {
			return 0, err
		}
		return int(l), nil
	case 0x82:
		hi, err := buf.ReadByte()
		if err != nil {
			return 0, err
		}
		lo, err := buf.ReadByte()
		if err != nil {
			return 0, err
		}
		return int(hi)<<8 | int(lo), nil
	default:
		return int(b), nil
	}
}
