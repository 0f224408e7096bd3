// Package sequencetest provides an in-memory identifier generator for
// repository fakes in tests.
package sequencetest

import (
	"fmt"
	"sync"

	"github.com/apotheca/apotheca/internal/sequence"
)

// Counter follows the numbering rules of the id_sequences counter without a
// database.
type Counter struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewCounter() *Counter {
	return &Counter{last: make(map[string]int64)}
}

// Next returns the next identifier of seq.
func (c *Counter) Next(seq sequence.Sequence) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.last[seq.Name]
	if !ok {
		value = seq.Start
	} else {
		value++
	}
	out, err := seq.Format(value)
	if err != nil {
		return "", err
	}
	c.last[seq.Name] = value
	return out, nil
}

// Observe raises the counter so later values never collide with id.
func (c *Counter) Observe(seq sequence.Sequence, id string) error {
	value, err := seq.Parse(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[seq.Name]; !ok || value > last {
		c.last[seq.Name] = value
	}
	return nil
}

// Last reports the last issued value, or "" before the first draw.
func (c *Counter) Last(seq sequence.Sequence) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.last[seq.Name]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%0*d", seq.Width, value)
}
