package custody

import (
	"errors"

	keycard "github.com/status-im/keycard-custody"
	"github.com/status-im/keycard-custody/apdu"
	"github.com/status-im/keycard-custody/crypto"
	"github.com/status-im/keycard-custody/io"
)

// Stage is the step of a procedure a failure happened in. The same card answer means
// different things depending on the stage.
type Stage int

const (
	StageConnect Stage = iota + 1
	StageSelect
	StageActivate
	StagePair
	StageReopen
	StageOpenChannel
	StageAuthenticate
	StageGenerateKey
	StageExportKey
	StageSign
	StageUnblock
	StageStatus
	StageUnpair
)

// Translate converts a facade or transport failure into an *Error. Errors that already are
// an *Error are returned unchanged.
func Translate(stage Stage, cause error) error {
	if cause == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(cause, &domainErr) {
		return cause
	}

	switch {
	case errors.Is(cause, io.ErrTimeout):
		return newError(KindTimeout, cause)
	case errors.Is(cause, io.ErrCancelled), errors.Is(cause, io.ErrBusy):
		return newError(KindUserCancelled, cause)
	}

	sw, hasSw := statusWord(cause)

	switch stage {
	case StagePair:
		switch {
		case errors.Is(cause, keycard.ErrNoAvailablePairingSlots), hasSw && sw == keycard.SwNoAvailablePairingSlots:
			return newError(KindNoPairingSlotsRemaining, cause)
		case errors.Is(cause, crypto.ErrInvalidCardCryptogram), hasSw && sw == apdu.SwSecurityConditionNotSatisfied:
			return newError(KindInvalidPairingPassword, cause)
		case hasSw && sw == apdu.SwInsNotSupported:
			return newError(KindKeycardNotInitialized, cause)
		}

	case StageReopen:
		switch {
		case errors.Is(cause, keycard.ErrInvalidResponseMAC),
			hasSw && (sw == apdu.SwWrongData || sw == apdu.SwSecurityConditionNotSatisfied || sw == apdu.SwIncorrectP1P2):
			return newError(kindPairingInvalid, cause)
		}

	case StageAuthenticate:
		var wrongPIN *keycard.WrongPINError
		switch {
		case errors.As(cause, &wrongPIN) && wrongPIN.RemainingAttempts == 0,
			hasSw && sw == apdu.SwAuthenticationMethodBlocked:
			return newError(KindKeycardBlocked, cause)
		case errors.As(cause, &wrongPIN):
			return &Error{Kind: KindInvalidPIN, RemainingAttempts: wrongPIN.RemainingAttempts, Err: cause}
		}

	case StageUnblock:
		var wrongPUK *keycard.WrongPUKError
		switch {
		case errors.As(cause, &wrongPUK) && wrongPUK.RemainingAttempts == 0,
			hasSw && sw == apdu.SwAuthenticationMethodBlocked:
			return newError(KindKeycardLost, cause)
		case errors.As(cause, &wrongPUK):
			return &Error{Kind: KindInvalidPUK, RemainingAttempts: wrongPUK.RemainingAttempts, Err: cause}
		}

	case StageActivate:
		if hasSw && sw == apdu.SwInsNotSupported {
			return newError(KindKeycardAlreadyInitialized, cause)
		}

	case StageSign:
		return newError(KindSigningFailed, cause)
	}

	return newError(KindCommunicationFailed, cause)
}

func statusWord(err error) (uint16, bool) {
	var badResponse *apdu.ErrBadResponse
	if errors.As(err, &badResponse) {
		return badResponse.Sw(), true
	}

	return 0, false
}
