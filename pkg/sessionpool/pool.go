// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sessionpool implements a bounded pool of pre-opened, pre-
// authenticated sessions against a single security provider, for callers
// that need to serve many short-lived operations without paying session
// setup cost on every one (e.g. an eval harness driving concurrent workers
// against one locking range table).
package sessionpool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/drivetrust/tcgstorage/pkg/core"
	"github.com/drivetrust/tcgstorage/pkg/core/uid"
	"github.com/drivetrust/tcgstorage/pkg/metrics"
)

// Authenticator authenticates a freshly opened session against the pool's
// security provider. It is called once per session, at pool construction
// time, before the session is made available to Acquire.
type Authenticator func(s *core.Session) error

// pollInterval is how often a blocked Acquire rechecks for an idle session.
// Short and fixed, unlike the exponential backoff used for ComPacket
// polling: there is no TPer round-trip involved, just local contention.
const pollInterval = time.Millisecond

// Pool is a fixed-size set of sessions opened against one SP, handed out to
// callers via Acquire/Release. It never grows past the size it was created
// with: a Pool is a resource limiter, not a cache.
type Pool struct {
	cs   *core.ControlSession
	spid uid.SPID

	mu   sync.Mutex
	idle []*core.Session
	size int

	metrics *metrics.Collector
}

// New opens size sessions against spid (authenticating each with auth, if
// non-nil) and returns a Pool ready to serve Acquire calls. If any session
// fails to open or authenticate, every session opened so far is closed and
// an error is returned — a Pool is either fully staffed or not created.
func New(cs *core.ControlSession, spid uid.SPID, size int, auth Authenticator, opts ...core.SessionOpt) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("sessionpool: size must be positive, got %d", size)
	}
	p := &Pool{cs: cs, spid: spid, size: size}
	for i := 0; i < size; i++ {
		s, err := cs.NewSession(spid, opts...)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("sessionpool: opening session %d/%d failed: %v", i+1, size, err)
		}
		if auth != nil {
			if err := auth(s); err != nil {
				s.Close()
				p.Close()
				return nil, fmt.Errorf("sessionpool: authenticating session %d/%d failed: %v", i+1, size, err)
			}
		}
		p.idle = append(p.idle, s)
	}
	return p, nil
}

// WithMetrics attaches a metrics.Collector that Acquire/Release keep
// updated with current idle/in-use counts. Safe to call once before the
// pool is shared across goroutines.
func (p *Pool) WithMetrics(c *metrics.Collector) *Pool {
	p.metrics = c
	p.reportLocked()
	return p
}

// Acquire blocks until a session is idle or ctx is done, whichever comes
// first. The returned session must be passed to Release when the caller is
// done with it.
func (p *Pool) Acquire(ctx context.Context) (*core.Session, error) {
	for {
		p.mu.Lock()
		if n := len(p.idle); n > 0 {
			s := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.reportLocked()
			p.mu.Unlock()
			return s, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release returns a session previously obtained from Acquire back to the
// pool, making it available to the next Acquire caller. A session that has
// already been closed (e.g. because the caller hit a fatal error and closed
// it itself) is dropped instead of being handed back out to the next
// Acquire, shrinking the pool's effective size by one.
func (p *Pool) Release(s *core.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !s.IsOpen() {
		log.Printf("sessionpool: dropping released session that is no longer open")
		p.reportLocked()
		return
	}
	p.idle = append(p.idle, s)
	p.reportLocked()
}

// Close closes every session currently idle in the pool. Sessions checked
// out via Acquire and never Released are not affected; callers should drain
// the pool (Acquire+Release every session once) before calling Close if
// that matters.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, s := range p.idle {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.idle = nil
	p.reportLocked()
	return firstErr
}

// Size returns the pool's fixed capacity.
func (p *Pool) Size() int {
	return p.size
}

// Idle returns the number of sessions currently available to Acquire.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *Pool) reportLocked() {
	if p.metrics == nil {
		return
	}
	idle := len(p.idle)
	p.metrics.PoolIdle.Set(float64(idle))
	p.metrics.PoolInUse.Set(float64(p.size - idle))
}
