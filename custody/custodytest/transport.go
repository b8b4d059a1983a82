package custodytest

import (
	"errors"
	"sync"

	"github.com/status-im/keycard-custody/apdu"
	"github.com/status-im/keycard-custody/types"
)

var (
	errLateFailure = errors.New("late connection failure")
	errNotACard    = errors.New("no card behind the test channel")
)

// Transport presents the same card on every Connect.
type Transport struct {
	// Err, when set, fails every connection attempt with it.
	Err error
	// Async delivers the callbacks from a new goroutine.
	Async bool
	// DoubleDeliver calls onFailed after onConnected returned, as a misbehaving reader could.
	DoubleDeliver bool
	// Hold, when set, delays the delivery until it is closed.
	Hold chan struct{}

	mu    sync.Mutex
	count int
}

// Connects returns the number of Connect calls.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.count
}

func (t *Transport) Connect(onConnected func(types.Channel), onFailed func(error)) {
	t.mu.Lock()
	t.count++
	t.mu.Unlock()

	deliver := func() {
		if t.Hold != nil {
			<-t.Hold
		}

		if t.Err != nil {
			onFailed(t.Err)
			return
		}

		onConnected(nopChannel{})

		if t.DoubleDeliver {
			onFailed(errLateFailure)
		}
	}

	if t.Async {
		go deliver()
		return
	}

	deliver()
}

type nopChannel struct{}

func (nopChannel) Send(*apdu.Command) (*apdu.Response, error) {
	return nil, errNotACard
}
