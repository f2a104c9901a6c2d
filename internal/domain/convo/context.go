// Package convo defines the durable conversation envelope (Context)
// and the messages exchanged within it.
package convo

import "time"

// Context is the durable conversation envelope. It is created
// implicitly by the first message whose request omits a context id
// and is never mutated by the core beyond its activity timestamp.
type Context struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Touch bumps UpdatedAt to now, the only mutation the core performs
// on a Context after creation.
func (c *Context) Touch(now time.Time) {
	c.UpdatedAt = now
}
