package workflow

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	errUnexpectedArrival = errors.New("barrier: arrival from a node outside the participant set")
	errDuplicateArrival  = errors.New("barrier: node arrived twice")
)

type arrival struct {
	node   string
	update Update
}

// barrier releases once every expected participant has arrived exactly once.
// The participant set is fixed at construction; completion is never inferred
// from which output slots happen to be filled.
type barrier struct {
	mu       sync.Mutex
	expected map[string]struct{}
	arrived  []arrival
	seen     map[string]struct{}
	done     chan struct{}
}

func newBarrier(participants []string) (*barrier, error) {
	if len(participants) == 0 {
		return nil, errors.New("barrier: empty participant set")
	}
	expected := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if _, dup := expected[p]; dup {
			return nil, fmt.Errorf("barrier: participant %q listed twice", p)
		}
		expected[p] = struct{}{}
	}
	return &barrier{
		expected: expected,
		seen:     make(map[string]struct{}, len(participants)),
		done:     make(chan struct{}),
	}, nil
}

// arrive records the update of a participant. The last expected arrival
// closes the done channel.
func (b *barrier) arrive(node string, u Update) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.expected[node]; !ok {
		return fmt.Errorf("%w: %s", errUnexpectedArrival, node)
	}
	if _, ok := b.seen[node]; ok {
		return fmt.Errorf("%w: %s", errDuplicateArrival, node)
	}
	b.seen[node] = struct{}{}
	b.arrived = append(b.arrived, arrival{node: node, update: u})
	if len(b.seen) == len(b.expected) {
		close(b.done)
	}
	return nil
}

func (b *barrier) wait() <-chan struct{} { return b.done }

// arrivals returns the updates in arrival order.
func (b *barrier) arrivals() []arrival {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]arrival, len(b.arrived))
	copy(out, b.arrived)
	return out
}

// remaining lists the participants that have not arrived yet.
func (b *barrier) remaining() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for p := range b.expected {
		if _, ok := b.seen[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (b *barrier) size() int { return len(b.expected) }
