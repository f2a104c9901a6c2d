// Package mockllm provides a deterministic, scripted llm.Client. It
// lives outside the _test files because every engine package drives
// the same scripted behavior, and the server binary falls back to it
// when no model provider is configured.
package mockllm

import (
	"context"
	"sync"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/capability"
	"github.com/cklxx-elephant-ai/a2aengine/internal/llm"
)

// Script is one scripted response. Set either CompleteResponse (for
// Complete) or StreamEvents+StreamErr (for Stream).
type Script struct {
	CompleteResponse llm.CompleteResponse
	CompleteErr      error

	StreamEvents []llm.StreamEvent
	StreamErr    error
	// StreamAbortAfter, when > 0, stops emitting further events once
	// ctx is canceled and this many events have already been sent —
	// used to simulate mid-stream cancellation.
	StreamAbortAfter int
}

// Client is a scripted, deterministic llm.Client for tests. Calls are
// consumed from Scripts in order; Complete and Stream each advance
// their own cursor so a test can script stage 1 then stage 2/3 calls
// independently.
type Client struct {
	mu             sync.Mutex
	completeScript []Script
	streamScript   []Script
	completeIdx    int
	streamIdx      int
}

// New builds a Client with no scripted responses; use WithComplete/
// WithStream to append scripts before driving a call.
func New() *Client {
	return &Client{}
}

// WithComplete appends a scripted Complete response.
func (c *Client) WithComplete(resp llm.CompleteResponse, err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeScript = append(c.completeScript, Script{CompleteResponse: resp, CompleteErr: err})
	return c
}

// WithStream appends a scripted Stream response.
func (c *Client) WithStream(events []llm.StreamEvent, err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamScript = append(c.streamScript, Script{StreamEvents: events, StreamErr: err})
	return c
}

// WithStreamAbortAfter appends a scripted Stream response that sends
// the first abortAfter events immediately, then blocks until ctx is
// canceled before closing the channel — a deterministic way to
// exercise mid-stream cancellation without racing a wall-clock delay
// against the caller's cancel.
func (c *Client) WithStreamAbortAfter(events []llm.StreamEvent, abortAfter int) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamScript = append(c.streamScript, Script{StreamEvents: events, StreamAbortAfter: abortAfter})
	return c
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.CompleteRequest) (llm.CompleteResponse, error) {
	c.mu.Lock()
	if c.completeIdx >= len(c.completeScript) {
		c.mu.Unlock()
		return llm.CompleteResponse{}, nil
	}
	s := c.completeScript[c.completeIdx]
	c.completeIdx++
	c.mu.Unlock()
	return s.CompleteResponse, s.CompleteErr
}

// Stream implements llm.Client. Events are delivered on a buffered
// channel sized to the script so the producer never blocks; if ctx is
// canceled before all events are sent, emission stops early to
// simulate an aborted stream.
func (c *Client) Stream(ctx context.Context, req llm.StreamRequest) (<-chan llm.StreamEvent, error) {
	c.mu.Lock()
	if c.streamIdx >= len(c.streamScript) {
		c.mu.Unlock()
		ch := make(chan llm.StreamEvent)
		close(ch)
		return ch, nil
	}
	s := c.streamScript[c.streamIdx]
	c.streamIdx++
	c.mu.Unlock()

	if s.StreamErr != nil {
		return nil, s.StreamErr
	}

	ch := make(chan llm.StreamEvent, len(s.StreamEvents))
	go func() {
		defer close(ch)
		for i, ev := range s.StreamEvents {
			if s.StreamAbortAfter > 0 && i >= s.StreamAbortAfter {
				break
			}
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
			}
		}
		if s.StreamAbortAfter > 0 {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// CreateTaskCall builds the scripted sentinel tool call stage 1 looks
// for to decide whether to branch into task execution.
func CreateTaskCall(args map[string]any) *capability.Call {
	return &capability.Call{ID: "createTask-call", Name: "createTask", Arguments: args}
}
