package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	SwOK                            = 0x9000
	SwSecurityConditionNotSatisfied = 0x6982
	SwAuthenticationMethodBlocked   = 0x6983
	SwConditionsNotSatisfied        = 0x6985
	SwWrongData                     = 0x6A80
	SwFileNotFound                  = 0x6A82
	SwIncorrectP1P2                 = 0x6A86
	SwReferencedDataNotFound        = 0x6A88
	SwInsNotSupported               = 0x6D00
)

// ErrBadRawResponse is returned when a raw response is shorter than a status word.
var ErrBadRawResponse = errors.New("response data must be at least 2 bytes")

// Response represents a struct with the data returned by the card plus its status word.
type Response struct {
	Data []byte
	Sw1  uint8
	Sw2  uint8
	Sw   uint16
}

// ErrBadResponse defines an error conaining the returned Sw and a related message.
type ErrBadResponse struct {
	sw      uint16
	message string
}

// NewErrBadResponse returns a ErrBadResponse with the specified sw and message values.
func NewErrBadResponse(sw uint16, message string) *ErrBadResponse {
	return &ErrBadResponse{
		sw:      sw,
		message: message,
	}
}

// Error implements the error interface.
func (e *ErrBadResponse) Error() string {
	return fmt.Sprintf("bad response %x: %s", e.sw, e.message)
}

// Sw returns the status word carried by the error.
func (e *ErrBadResponse) Sw() uint16 {
	return e.sw
}

// ParseResponse parses a raw response and return a Response.
func ParseResponse(data []byte) (*Response, error) {
	if len(data) < 2 {
		return nil, ErrBadRawResponse
	}

	swOffset := len(data) - 2
	sw := binary.BigEndian.Uint16(data[swOffset:])

	return &Response{
		Data: data[:swOffset],
		Sw1:  data[swOffset],
		Sw2:  data[swOffset+1],
		Sw:   sw,
	}, nil
}

// IsOK returns true if the response Sw is 0x9000.
func (r *Response) IsOK() bool {
	return r.Sw == SwOK
}
