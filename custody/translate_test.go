package custody

import (
	"errors"
	"fmt"
	"testing"

	keycard "github.com/status-im/keycard-custody"
	"github.com/status-im/keycard-custody/apdu"
	"github.com/status-im/keycard-custody/crypto"
	"github.com/status-im/keycard-custody/io"
	"github.com/stretchr/testify/assert"
)

func sw(code uint16) error {
	return apdu.NewErrBadResponse(code, "unexpected response")
}

func TestTranslate(t *testing.T) {
	scenarios := []struct {
		stage     Stage
		cause     error
		kind      Kind
		remaining int
	}{
		{StageSelect, io.ErrTimeout, KindTimeout, 0},
		{StageSign, fmt.Errorf("transmit: %w", io.ErrTimeout), KindTimeout, 0},
		{StageAuthenticate, io.ErrCancelled, KindUserCancelled, 0},
		{StageConnect, io.ErrBusy, KindUserCancelled, 0},
		{StageConnect, errors.New("no reader"), KindCommunicationFailed, 0},
		{StagePair, keycard.ErrNoAvailablePairingSlots, KindNoPairingSlotsRemaining, 0},
		{StagePair, sw(keycard.SwNoAvailablePairingSlots), KindNoPairingSlotsRemaining, 0},
		{StagePair, crypto.ErrInvalidCardCryptogram, KindInvalidPairingPassword, 0},
		{StagePair, sw(apdu.SwSecurityConditionNotSatisfied), KindInvalidPairingPassword, 0},
		{StagePair, sw(apdu.SwInsNotSupported), KindKeycardNotInitialized, 0},
		{StagePair, sw(apdu.SwWrongData), KindCommunicationFailed, 0},
		{StageReopen, sw(apdu.SwWrongData), kindPairingInvalid, 0},
		{StageReopen, sw(apdu.SwIncorrectP1P2), kindPairingInvalid, 0},
		{StageReopen, sw(apdu.SwSecurityConditionNotSatisfied), kindPairingInvalid, 0},
		{StageReopen, keycard.ErrInvalidResponseMAC, kindPairingInvalid, 0},
		{StageOpenChannel, sw(apdu.SwWrongData), KindCommunicationFailed, 0},
		{StageAuthenticate, &keycard.WrongPINError{RemainingAttempts: 2}, KindInvalidPIN, 2},
		{StageAuthenticate, &keycard.WrongPINError{RemainingAttempts: 0}, KindKeycardBlocked, 0},
		{StageAuthenticate, sw(apdu.SwAuthenticationMethodBlocked), KindKeycardBlocked, 0},
		{StageUnblock, &keycard.WrongPUKError{RemainingAttempts: 4}, KindInvalidPUK, 4},
		{StageUnblock, &keycard.WrongPUKError{RemainingAttempts: 0}, KindKeycardLost, 0},
		{StageUnblock, &keycard.WrongPINError{RemainingAttempts: 1}, KindCommunicationFailed, 0},
		{StageActivate, sw(apdu.SwInsNotSupported), KindKeycardAlreadyInitialized, 0},
		{StageSign, sw(apdu.SwConditionsNotSatisfied), KindSigningFailed, 0},
		{StageExportKey, sw(apdu.SwReferencedDataNotFound), KindCommunicationFailed, 0},
	}

	for _, s := range scenarios {
		t.Run(fmt.Sprintf("%d %v", s.stage, s.cause), func(t *testing.T) {
			err := Translate(s.stage, s.cause)

			var domainErr *Error
			if assert.ErrorAs(t, err, &domainErr) {
				assert.Equal(t, s.kind, domainErr.Kind)
				assert.Equal(t, s.remaining, domainErr.RemainingAttempts)
			}
			assert.ErrorIs(t, err, s.cause)
		})
	}
}

func TestTranslateKeepsDomainErrors(t *testing.T) {
	assert.Nil(t, Translate(StageSign, nil))
	assert.Equal(t, ErrUnknownKeycard, Translate(StageSign, ErrUnknownKeycard))
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("pairing: %w", &Error{Kind: KindInvalidPIN, RemainingAttempts: 1})

	assert.ErrorIs(t, err, ErrInvalidPIN)
	assert.NotErrorIs(t, err, ErrInvalidPUK)
	assert.Equal(t, KindInvalidPIN, KindOf(err))
	assert.Equal(t, Kind(0), KindOf(errors.New("other")))
	assert.Equal(t, "invalid pin, remaining attempts: 1", errors.Unwrap(err).Error())
}

func TestErrorClasses(t *testing.T) {
	assert.True(t, IsSilent(ErrUserCancelled))
	assert.True(t, IsSilent(newError(KindTimeout, io.ErrTimeout)))
	assert.False(t, IsSilent(ErrInvalidSigner))

	assert.True(t, IsTerminal(ErrKeycardBlocked))
	assert.True(t, IsTerminal(ErrKeycardLost))
	assert.False(t, IsTerminal(ErrInvalidPIN))
}
