package llm

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Credential is one backend API key.
type Credential struct {
	ID  string
	Key string
}

// Pool rotates calls across credentials round-robin. A credential that was
// rate limited or rejected rests for the cooldown before it is offered again.
type Pool struct {
	creds    []Credential
	next     atomic.Uint64
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	resting map[string]time.Time
}

// NewPool builds a pool from raw keys. Empty keys are skipped.
func NewPool(keys []string, cooldown time.Duration) *Pool {
	p := &Pool{
		cooldown: cooldown,
		now:      time.Now,
		resting:  make(map[string]time.Time),
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		p.creds = append(p.creds, Credential{ID: fmt.Sprintf("key-%d", len(p.creds)+1), Key: k})
	}
	return p
}

// Len returns the number of configured credentials.
func (p *Pool) Len() int {
	return len(p.creds)
}

// Credentials returns every configured credential.
func (p *Pool) Credentials() []Credential {
	return append([]Credential(nil), p.creds...)
}

// Next returns the next credential in rotation.
func (p *Pool) Next() (Credential, bool) {
	if len(p.creds) == 0 {
		return Credential{}, false
	}
	i := (p.next.Add(1) - 1) % uint64(len(p.creds))
	return p.creds[i], true
}

// Candidates returns one full rotation starting at the next credential,
// without the ones still cooling down.
func (p *Pool) Candidates() []Credential {
	n := len(p.creds)
	if n == 0 {
		return nil
	}
	start := (p.next.Add(1) - 1) % uint64(n)
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Credential, 0, n)
	for i := 0; i < n; i++ {
		c := p.creds[(start+uint64(i))%uint64(n)]
		if until, ok := p.resting[c.ID]; ok {
			if now.Before(until) {
				continue
			}
			delete(p.resting, c.ID)
		}
		out = append(out, c)
	}
	return out
}

// Rest puts a credential on cooldown.
func (p *Pool) Rest(c Credential, kind ErrorKind) {
	if p.cooldown <= 0 {
		return
	}
	p.mu.Lock()
	p.resting[c.ID] = p.now().Add(p.cooldown)
	p.mu.Unlock()
	slog.Info("Credential entering cooldown", "credential", c.ID, "kind", kind.String(), "cooldown", p.cooldown)
}
