package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/ebfe/scard"
	"github.com/status-im/keycard-custody/io"
	"github.com/status-im/keycard-custody/types"
)

const cardWaitTimeout = 60 * time.Second

// pcscTransport waits for a card on a PC/SC reader and hands the service a channel to it.
type pcscTransport struct {
	reader string
}

func newPCSCTransport(reader string) *pcscTransport {
	return &pcscTransport{reader: reader}
}

func (t *pcscTransport) Connect(onConnected func(types.Channel), onFailed func(error)) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		onFailed(fmt.Errorf("establishing card context: %w", err))
		return
	}

	defer func() {
		if err := ctx.Release(); err != nil {
			logger.Error("error releasing context", "error", err)
		}
	}()

	reader, err := t.selectReader(ctx)
	if err != nil {
		onFailed(err)
		return
	}

	stop := cancelOnInterrupt(ctx.Cancel)
	err = waitForCard(ctx, reader)
	stop()

	if err != nil {
		onFailed(transportError(err))
		return
	}

	logger.Debug("connecting to card", "reader", reader)
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		onFailed(transportError(err))
		return
	}
	defer func() {
		if err := card.Disconnect(scard.ResetCard); err != nil {
			logger.Error("error disconnecting card", "error", err)
		}
	}()

	status, err := card.Status()
	if err != nil {
		onFailed(transportError(err))
		return
	}

	switch status.ActiveProtocol {
	case scard.ProtocolT0:
		logger.Debug("card protocol", "T", "0")
	case scard.ProtocolT1:
		logger.Debug("card protocol", "T", "1")
	default:
		logger.Debug("card protocol", "T", "unknown")
	}

	onConnected(io.NewNormalChannel(&transmitter{card: card}))
}

func (t *pcscTransport) selectReader(ctx *scard.Context) (string, error) {
	readers, err := ctx.ListReaders()
	if err != nil {
		return "", fmt.Errorf("getting readers: %w", err)
	}

	if t.reader != "" {
		for _, r := range readers {
			if r == t.reader {
				return r, nil
			}
		}

		return "", fmt.Errorf("reader %q not found", t.reader)
	}

	if len(readers) == 0 {
		return "", errors.New("couldn't find any reader")
	}

	if len(readers) > 1 {
		return "", errors.New("too many readers found, select one with -r")
	}

	logger.Debug("using reader", "name", readers[0])

	return readers[0], nil
}

func waitForCard(ctx *scard.Context, reader string) error {
	states := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}
	if err := ctx.GetStatusChange(states, 0); err != nil {
		return err
	}

	if states[0].EventState&scard.StatePresent != 0 {
		return nil
	}

	fmt.Println("waiting for keycard...")
	deadline := time.Now().Add(cardWaitTimeout)
	for states[0].EventState&scard.StatePresent == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return scard.ErrTimeout
		}

		states[0].CurrentState = states[0].EventState
		if err := ctx.GetStatusChange(states, remaining); err != nil {
			return err
		}
	}

	return nil
}

// cancelOnInterrupt calls cancel on the first interrupt received before stop. Outside of that
// window an interrupt terminates the process as usual, prompts included.
func cancelOnInterrupt(cancel func() error) (stop func()) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)

	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)

		select {
		case <-interrupts:
			logger.Debug("interrupted while waiting for the card")
			if err := cancel(); err != nil {
				logger.Debug("error cancelling wait", "error", err)
			}
		case <-done:
		}
	}()

	return func() {
		signal.Stop(interrupts)
		close(done)
		<-finished
	}
}

// transportError maps PC/SC failures to the io causes the custody layer understands.
func transportError(err error) error {
	switch {
	case errors.Is(err, scard.ErrTimeout):
		return fmt.Errorf("%w: %v", io.ErrTimeout, err)
	case errors.Is(err, scard.ErrCancelled):
		return fmt.Errorf("%w: %v", io.ErrCancelled, err)
	case errors.Is(err, scard.ErrSharingViolation):
		return fmt.Errorf("%w: %v", io.ErrBusy, err)
	default:
		return err
	}
}

type transmitter struct {
	card *scard.Card
}

func (t *transmitter) Transmit(cmd []byte) ([]byte, error) {
	resp, err := t.card.Transmit(cmd)
	if err != nil {
		return nil, transportError(err)
	}

	return resp, nil
}
