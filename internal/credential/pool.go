package credential

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// ErrNoUsableCredential is returned when the pool holds no non-blank credential.
var ErrNoUsableCredential = errors.New("no usable credential")

// RotationState tracks whether a credential was recently rotated away from.
type RotationState string

const (
	StateActive          RotationState = "active"
	StateRecentlyRotated RotationState = "recently_rotated"
)

// Credential is one API key, representing one quota allocation.
// Credentials are owned by the pool and never destroyed mid-run.
type Credential struct {
	Secret  string
	state   RotationState
	limiter *rate.Limiter
}

// State returns the credential's rotation state.
func (c *Credential) State() RotationState {
	return c.state
}

// Usable reports whether the credential has a non-blank secret.
func (c *Credential) Usable() bool {
	return c != nil && strings.TrimSpace(c.Secret) != ""
}

// Wait blocks until the credential's request pacing allows another call.
// Credentials without a limiter never block.
func (c *Credential) Wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Masked returns a log-safe rendering of the secret.
func (c *Credential) Masked() string {
	return Mask(c.Secret)
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	s := strings.TrimSpace(secret)
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// Source is the view of the credentials a batch executor works against.
// The shared Pool and worker-local Leases both implement it.
type Source interface {
	// Current returns the credential calls should be made with.
	Current() (*Credential, error)
	// Rotate advances to the next usable credential. It returns false, and
	// changes nothing, when at most one credential is usable.
	Rotate() bool
	// Size returns the number of usable credentials.
	Size() int
}

// Options configures a Pool.
type Options struct {
	// RequestsPerMinute paces calls per credential; zero disables pacing.
	RequestsPerMinute float64
}

// Pool holds interchangeable credentials and a rotation pointer shared by
// every worker. All methods are safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	creds   []*Credential
	current int // index into the usable credentials
	opts    Options
}

// NewPool creates a pool from the given secrets, in order. Blank secrets are
// kept but never selected.
func NewPool(secrets []string, opts Options) *Pool {
	p := &Pool{opts: opts}
	for _, s := range secrets {
		p.creds = append(p.creds, p.newCredential(s))
	}
	return p
}

func (p *Pool) newCredential(secret string) *Credential {
	c := &Credential{
		Secret: strings.TrimSpace(secret),
		state:  StateActive,
	}
	if p.opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(p.opts.RequestsPerMinute/60.0), 1)
	}
	return c
}

// usableLocked returns the non-blank credentials in order. Callers hold p.mu.
func (p *Pool) usableLocked() []*Credential {
	usable := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.Usable() {
			usable = append(usable, c)
		}
	}
	return usable
}

// Usable returns the non-blank credentials in pool order.
func (p *Pool) Usable() []*Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usableLocked()
}

// Size returns the number of usable credentials.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.usableLocked())
}

// Index returns the position of the rotation pointer among usable credentials.
func (p *Pool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Current returns the credential under the rotation pointer.
func (p *Pool) Current() (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.atLocked(p.current)
}

func (p *Pool) atLocked(idx int) (*Credential, error) {
	usable := p.usableLocked()
	if len(usable) == 0 {
		return nil, ErrNoUsableCredential
	}
	return usable[idx%len(usable)], nil
}

// Rotate advances the shared pointer circularly.
func (p *Pool) Rotate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.rotateLocked(p.current)
	if ok {
		p.current = next
	}
	return ok
}

// rotateLocked computes the successor of idx and updates rotation states.
func (p *Pool) rotateLocked(idx int) (int, bool) {
	usable := p.usableLocked()
	if len(usable) <= 1 {
		return idx, false
	}
	from := idx % len(usable)
	to := (from + 1) % len(usable)
	usable[from].state = StateRecentlyRotated
	usable[to].state = StateActive
	return to, true
}

// Add appends a credential to the end of the pool.
func (p *Pool) Add(secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = append(p.creds, p.newCredential(secret))
}

// Remove deletes the first credential with the given secret. It reports whether
// one was removed. The rotation pointer keeps pointing at a valid credential.
func (p *Pool) Remove(secret string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	secret = strings.TrimSpace(secret)
	for i, c := range p.creds {
		if c.Secret != secret {
			continue
		}
		p.creds = append(p.creds[:i], p.creds[i+1:]...)
		if n := len(p.usableLocked()); n > 0 {
			p.current %= n
		} else {
			p.current = 0
		}
		return true
	}
	return false
}

// Lease returns a worker-local cursor over the pool's credentials starting at
// offset. Leases share the credential list but keep their own pointer, so
// parallel workers can each own a credential and still rotate away from it.
func (p *Pool) Lease(offset int) *Lease {
	return &Lease{pool: p, current: offset}
}

// Lease is a worker-local view of a Pool.
type Lease struct {
	pool    *Pool
	mu      sync.Mutex
	current int
}

// Current returns the credential under the lease's pointer.
func (l *Lease) Current() (*Credential, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	return l.pool.atLocked(l.current)
}

// Rotate advances the lease's pointer circularly.
func (l *Lease) Rotate() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	next, ok := l.pool.rotateLocked(l.current)
	if ok {
		l.current = next
	}
	return ok
}

// Size returns the number of usable credentials in the underlying pool.
func (l *Lease) Size() int {
	return l.pool.Size()
}
