package session

import (
	"context"
	"time"
)

// Context is one connect attempt and, if it succeeds, the live session.
// Its identity is what stale results are checked against.
type Context struct {
	ID         string
	Generation uint64
	CreatedAt  time.Time

	// set under Connection.mu
	creds      Credentials
	room       Room
	micEnabled bool

	ctx          context.Context
	cancel       context.CancelFunc
	abortConnect context.CancelFunc
}

// Done is closed when the session is torn down.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Ctx is cancelled when the session is torn down.
func (c *Context) Ctx() context.Context { return c.ctx }
