package main

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ebfe/scard"
	"github.com/status-im/keycard-custody/io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelOnInterrupt(t *testing.T) {
	cancelled := make(chan struct{})
	stop := cancelOnInterrupt(func() error {
		close(cancelled)
		return nil
	})

	process, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, process.Signal(os.Interrupt))

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not cancel the card wait")
	}

	stop()
}

func TestCancelOnInterruptStop(t *testing.T) {
	calls := 0
	stop := cancelOnInterrupt(func() error {
		calls++
		return nil
	})

	stop()
	assert.Zero(t, calls)
}

func TestTransportError(t *testing.T) {
	scenarios := []struct {
		err      error
		expected error
	}{
		{scard.ErrTimeout, io.ErrTimeout},
		{scard.ErrCancelled, io.ErrCancelled},
		{scard.ErrSharingViolation, io.ErrBusy},
	}

	for _, s := range scenarios {
		err := transportError(s.err)
		assert.ErrorIs(t, err, s.expected)
	}

	other := errors.New("reader unplugged")
	assert.Equal(t, other, transportError(other))
}
