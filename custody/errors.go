package custody

import (
	"errors"
	"fmt"
)

// Kind identifies a user actionable failure of a custody operation.
type Kind int

const (
	KindCommunicationFailed Kind = iota + 1
	KindNoPairingSlotsRemaining
	KindInvalidPairingPassword
	KindKeycardBlocked
	KindInvalidPIN
	KindKeycardLost
	KindInvalidPUK
	KindKeycardNotInitialized
	KindKeycardAlreadyInitialized
	KindKeycardKeyNotFound
	KindUnknownKeycard
	KindUnknownMasterKey
	KindKeycardNotPaired
	KindKeycardPairingBecameInvalid
	KindSigningFailed
	KindInvalidSignature
	KindInvalidSigner
	KindUserCancelled
	KindTimeout

	// kindPairingInvalid is only used inside a session to trigger re-pairing.
	kindPairingInvalid
)

var kindNames = map[Kind]string{
	KindCommunicationFailed:         "card communication failed",
	KindNoPairingSlotsRemaining:     "no pairing slots remaining",
	KindInvalidPairingPassword:      "invalid pairing password",
	KindKeycardBlocked:              "keycard blocked",
	KindInvalidPIN:                  "invalid pin",
	KindKeycardLost:                 "keycard lost",
	KindInvalidPUK:                  "invalid puk",
	KindKeycardNotInitialized:       "keycard not initialized",
	KindKeycardAlreadyInitialized:   "keycard already initialized",
	KindKeycardKeyNotFound:          "keycard key not found",
	KindUnknownKeycard:              "unknown keycard",
	KindUnknownMasterKey:            "unknown master key",
	KindKeycardNotPaired:            "keycard not paired",
	KindKeycardPairingBecameInvalid: "keycard pairing became invalid",
	KindSigningFailed:               "signing failed",
	KindInvalidSignature:            "invalid signature",
	KindInvalidSigner:               "invalid signer",
	KindUserCancelled:               "cancelled by the user",
	KindTimeout:                     "card session timed out",
	kindPairingInvalid:              "pairing invalid",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("unknown kind %d", int(k))
}

// Error is the only error type returned by card operations. Err holds the low level cause, if any.
type Error struct {
	Kind              Kind
	RemainingAttempts int
	Err               error
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == KindInvalidPIN || e.Kind == KindInvalidPUK {
		msg = fmt.Sprintf("%s, remaining attempts: %d", msg, e.RemainingAttempts)
	}

	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidPIN) holds whatever the attempts left.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrCommunicationFailed         = &Error{Kind: KindCommunicationFailed}
	ErrNoPairingSlotsRemaining     = &Error{Kind: KindNoPairingSlotsRemaining}
	ErrInvalidPairingPassword      = &Error{Kind: KindInvalidPairingPassword}
	ErrKeycardBlocked              = &Error{Kind: KindKeycardBlocked}
	ErrInvalidPIN                  = &Error{Kind: KindInvalidPIN}
	ErrKeycardLost                 = &Error{Kind: KindKeycardLost}
	ErrInvalidPUK                  = &Error{Kind: KindInvalidPUK}
	ErrKeycardNotInitialized       = &Error{Kind: KindKeycardNotInitialized}
	ErrKeycardAlreadyInitialized   = &Error{Kind: KindKeycardAlreadyInitialized}
	ErrKeycardKeyNotFound          = &Error{Kind: KindKeycardKeyNotFound}
	ErrUnknownKeycard              = &Error{Kind: KindUnknownKeycard}
	ErrUnknownMasterKey            = &Error{Kind: KindUnknownMasterKey}
	ErrKeycardNotPaired            = &Error{Kind: KindKeycardNotPaired}
	ErrKeycardPairingBecameInvalid = &Error{Kind: KindKeycardPairingBecameInvalid}
	ErrSigningFailed               = &Error{Kind: KindSigningFailed}
	ErrInvalidSignature            = &Error{Kind: KindInvalidSignature}
	ErrInvalidSigner               = &Error{Kind: KindInvalidSigner}
	ErrUserCancelled               = &Error{Kind: KindUserCancelled}
	ErrTimeout                     = &Error{Kind: KindTimeout}

	errPairingInvalid = &Error{Kind: kindPairingInvalid}
)

// Programming errors, returned before any card I/O.
var (
	ErrInvalidHashLength    = errors.New("hash must be 32 bytes")
	ErrInvalidPathComponent = errors.New("path component must be lower than 2^31")
	ErrSessionActive        = errors.New("a keycard session is already active")
)

// KindOf returns the kind of a custody error, or 0 if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// IsSilent reports whether err should end the operation without showing an error to the user.
func IsSilent(err error) bool {
	switch KindOf(err) {
	case KindUserCancelled, KindTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the card can't be used anymore without an unblock or a replacement.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindKeycardBlocked, KindKeycardLost:
		return true
	default:
		return false
	}
}
