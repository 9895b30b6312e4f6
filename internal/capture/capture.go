// Package capture buffers the rendered content of every candidate condition so that
// only the chosen one is emitted.
//
// Every candidate is rendered before the decision is known, so side effects of
// rendering discarded branches still happen. Callers that cannot afford that should
// decide first and render only the chosen condition.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrUnknownCondition is returned when resolving a key that was never captured.
var ErrUnknownCondition = errors.New("capture: unknown condition")

// Capture collects content per condition key. It is not safe for concurrent use.
type Capture struct {
	keys    []string
	content map[string]string

	open string
	buf  bytes.Buffer
	live bool
}

// New returns an empty capture.
func New() *Capture {
	return &Capture{content: make(map[string]string)}
}

// Begin closes any open region and starts capturing key.
// The key is registered with empty content immediately.
func (c *Capture) Begin(key string) io.Writer {
	if c.live {
		c.End()
	}

	if _, seen := c.content[key]; !seen {
		c.keys = append(c.keys, key)
	}
	c.content[key] = ""

	c.open = key
	c.live = true
	c.buf.Reset()
	return &c.buf
}

// Write appends p to the open region. Writing with no open region is an error.
func (c *Capture) Write(p []byte) (int, error) {
	if !c.live {
		return 0, errors.New("capture: write outside of a condition")
	}
	return c.buf.Write(p)
}

// End stores the open region's content. It is a no-op when nothing is open.
func (c *Capture) End() {
	if !c.live {
		return
	}
	c.content[c.open] = c.buf.String()
	c.buf.Reset()
	c.open = ""
	c.live = false
}

// Add captures key with the given content in one step.
func (c *Capture) Add(key, content string) {
	w := c.Begin(key)
	_, _ = io.WriteString(w, content)
	c.End()
}

// Keys returns the captured keys in registration order.
func (c *Capture) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Resolve returns the content of chosen and drops every other buffer.
// An open region is closed first.
func (c *Capture) Resolve(chosen string) (string, error) {
	c.End()

	content, ok := c.content[chosen]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCondition, chosen)
	}

	c.content = map[string]string{chosen: content}
	c.keys = []string{chosen}
	return content, nil
}
