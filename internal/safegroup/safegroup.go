// Package safegroup wraps errgroup.Group with panic recovery, so a
// panic in one fan-out goroutine (a hook, a per-target initial build)
// surfaces as an error instead of taking the daemon down.
package safegroup

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/poltergeist/poltergeist/internal/logger"
)

// Group runs functions concurrently, recovering panics as errors.
type Group struct {
	group *errgroup.Group
	log   logger.Logger
}

// New returns a Group bound to ctx, and the derived context that's
// canceled as soon as any goroutine returns a non-nil error.
func New(ctx context.Context, log logger.Logger) (*Group, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	return &Group{group: g, log: log}, ctx
}

// Go runs fn in a new goroutine. A panic in fn is recovered, logged
// with its stack trace, and reported to Wait as an error rather than
// crashing the process.
func (g *Group) Go(fn func() error) {
	g.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("goroutine panic recovered",
					logger.WithField("panic", r),
					logger.WithField("stackTrace", string(debug.Stack())))
				err = fmt.Errorf("goroutine panic: %v", r)
			}
		}()
		return fn()
	})
}

// SetLimit caps the number of goroutines running concurrently.
func (g *Group) SetLimit(n int) {
	g.group.SetLimit(n)
}

// Wait blocks until every goroutine has returned, then returns the
// first non-nil error, if any.
func (g *Group) Wait() (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("panic during safegroup wait",
				logger.WithField("panic", r),
				logger.WithField("stackTrace", string(debug.Stack())))
			err = fmt.Errorf("wait panic: %v", r)
		}
	}()
	return g.group.Wait()
}
