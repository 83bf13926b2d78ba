package tracker

import (
	"sync"
	"time"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/utils"
	"github.com/pkg/errors"
)

// DedupWindow is the minimum time after an accepted reading before a new
// sequence token is trusted. A device advertises for about 10 seconds per
// measurement and may take the next measurement within that burst.
const DedupWindow = 11 * time.Second

var ErrUnknownDevice = errors.New("unknown device")

type Decision int

const (
	Reject Decision = iota
	Accept
)

func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "reject"
}

// Handle is the delivery endpoint bound to a single device.
type Handle interface {
	Enqueue(reading entities.Reading)
	Stop()
}

// HandleFactory builds the delivery handle for a registered device. It is
// called once per address for the lifetime of the tracker.
type HandleFactory func(address string, device entities.Device) (Handle, error)

// State is the runtime memory kept for one device address.
type State struct {
	Address string
	Device  entities.Device
	Handle  Handle

	mu             sync.Mutex
	lastSequence   string
	hasSequence    bool
	lastObservedAt time.Time
}

// LastSequence returns the last accepted sequence token, ok is false before
// the first accepted reading.
func (s *State) LastSequence() (sequence string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSequence, s.hasSequence
}

func (s *State) LastObservedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastObservedAt
}

func (s *State) observe(sequence string, now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := now.Sub(s.lastObservedAt)
	if s.hasSequence && sequence == s.lastSequence {
		return Reject
	}
	if delta <= DedupWindow {
		return Reject
	}
	s.lastSequence = sequence
	s.hasSequence = true
	s.lastObservedAt = now
	return Accept
}

// Tracker decides, per device, whether an observed advertisement carries a
// new measurement.
type Tracker struct {
	registry map[string]entities.Device
	factory  HandleFactory

	mu     sync.Mutex
	states map[string]*State
}

func New(registry map[string]entities.Device, factory HandleFactory) *Tracker {
	normalized := make(map[string]entities.Device, len(registry))
	for address, device := range registry {
		normalized[utils.NormalizeAddress(address)] = device
	}
	return &Tracker{
		registry: normalized,
		factory:  factory,
		states:   make(map[string]*State),
	}
}

// GetOrCreate returns the state for address, creating it and binding its
// delivery handle on first use. The returned pointer is stable for the
// lifetime of the tracker.
func (t *Tracker) GetOrCreate(address string) (*State, error) {
	address = utils.NormalizeAddress(address)

	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.states[address]; ok {
		return state, nil
	}
	device, ok := t.registry[address]
	if !ok {
		return nil, errors.Wrap(ErrUnknownDevice, address)
	}
	handle, err := t.factory(address, device)
	if err != nil {
		return nil, errors.Wrapf(err, "bind delivery handle for %s", address)
	}

	state := &State{
		Address:        address,
		Device:         device,
		Handle:         handle,
		lastObservedAt: time.Unix(0, 0),
	}
	t.states[address] = state
	return state, nil
}

func (t *Tracker) Observe(address, sequence string, now time.Time) (Decision, *State, error) {
	state, err := t.GetOrCreate(address)
	if err != nil {
		return Reject, nil, err
	}
	return state.observe(sequence, now), state, nil
}

// Lookup returns the state for address without creating it.
func (t *Tracker) Lookup(address string) (*State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[utils.NormalizeAddress(address)]
	return state, ok
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// Close stops the delivery handle of every known device.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, state := range t.states {
		if state.Handle != nil {
			state.Handle.Stop()
		}
	}
}
