package credential

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

type Policy string

const (
	PolicyRoundRobin      Policy = "round_robin"
	PolicyLeastUsed       Policy = "least_used"
	PolicyBestPerformance Policy = "best_performance"
)

const (
	disableThreshold  = 10
	rateLimitCooldown = 60 * time.Second
	disableCooldown   = 15 * time.Minute
	windowSize        = 60 * time.Second
)

var (
	ErrNoCredentialAvailable = errors.New("no credential available")
	ErrUnknownCredential     = errors.New("unknown credential")
)

// ErrorRecorder persists credential failures for operator diagnosis.
type ErrorRecorder interface {
	Record(ctx context.Context, credentialName, errorType, message string) error
}

// Lease is what callers get from Acquire: the key to use plus the name to
// report back through RecordOutcome.
type Lease struct {
	Name string
	Key  string
}

// Pool owns a set of rate-limited credentials and hands them out under a
// selection policy. All credential state lives behind the pool's mutex.
type Pool struct {
	mu     sync.Mutex
	creds  []*Credential
	cursor int
	errlog ErrorRecorder

	now func() time.Time
}

func NewPool(keys []string, errlog ErrorRecorder) *Pool {
	return &Pool{
		creds:  newCredentials(keys),
		errlog: errlog,
		now:    time.Now,
	}
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Acquire selects an eligible credential under the given policy and counts
// the acquisition against its rolling 60-second window.
func (p *Pool) Acquire(ctx context.Context, policy Policy) (Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	eligible := p.eligible(now)
	if len(eligible) == 0 {
		p.reactivateExpired(now)
		eligible = p.eligible(now)
	}
	if len(eligible) == 0 {
		slog.WarnContext(ctx, "credential pool exhausted", "policy", string(policy), "total", len(p.creds))
		return Lease{}, ErrNoCredentialAvailable
	}

	var chosen *Credential
	switch policy {
	case PolicyLeastUsed:
		chosen = pickLeastUsed(eligible)
	case PolicyBestPerformance:
		chosen = p.pickBestPerformance(eligible)
	default:
		chosen = p.pickRoundRobin(eligible)
	}

	chosen.window = append(chosen.window, now)
	chosen.requestCount++
	return Lease{Name: chosen.Name, Key: chosen.Key}, nil
}

// RecordOutcome feeds a call result back into the pool. Rate-limit errors
// put the credential on a short cooldown; repeated errors deactivate it
// for a longer one. Success decrements the error count so transient
// failures self-heal.
func (p *Pool) RecordOutcome(ctx context.Context, name string, success bool, callErr error) {
	p.mu.Lock()
	cred := p.byName(name)
	if cred == nil {
		p.mu.Unlock()
		return
	}

	if success {
		if cred.errorCount > 0 {
			cred.errorCount--
		}
		p.mu.Unlock()
		return
	}

	cred.errorCount++
	errType := "api_error"
	if isRateLimitError(callErr) {
		errType = "rate_limit"
		cred.cooldownUntil = p.now().Add(rateLimitCooldown)
	}
	if cred.errorCount > disableThreshold {
		cred.active = false
		cred.cooldownUntil = p.now().Add(disableCooldown)
		slog.WarnContext(ctx, "credential deactivated", "credential", name, "error_count", cred.errorCount)
	}
	errCount := cred.errorCount
	p.mu.Unlock()

	msg := ""
	if callErr != nil {
		msg = callErr.Error()
	}
	slog.InfoContext(ctx, "credential error recorded", "credential", name, "error_type", errType, "error_count", errCount)
	if p.errlog != nil {
		if err := p.errlog.Record(ctx, name, errType, msg); err != nil {
			slog.WarnContext(ctx, "failed to persist credential error", "credential", name, "error", err)
		}
	}
}

// Status snapshots every credential for the operational surface.
func (p *Pool) Status() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Status, 0, len(p.creds))
	for _, c := range p.creds {
		c.pruneWindow(now)
		s := Status{
			Name:          c.Name,
			IsActive:      c.active,
			ErrorCount:    c.errorCount,
			RatePerMinute: c.RatePerMinute,
			WindowUsage:   len(c.window),
		}
		if !c.cooldownUntil.IsZero() && c.cooldownUntil.After(now) {
			until := c.cooldownUntil
			s.CooldownUntil = &until
		}
		out = append(out, s)
	}
	return out
}

// Reset clears a credential's error state, reactivating it immediately.
func (p *Pool) Reset(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred := p.byName(name)
	if cred == nil {
		return ErrUnknownCredential
	}
	cred.errorCount = 0
	cred.active = true
	cred.cooldownUntil = time.Time{}
	return nil
}

func (p *Pool) byName(name string) *Credential {
	for _, c := range p.creds {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (p *Pool) eligible(now time.Time) []*Credential {
	var out []*Credential
	for _, c := range p.creds {
		c.pruneWindow(now)
		if !c.active || c.errorCount >= disableThreshold {
			continue
		}
		if !c.cooldownUntil.IsZero() && c.cooldownUntil.After(now) {
			continue
		}
		if len(c.window) >= c.RatePerMinute {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (p *Pool) reactivateExpired(now time.Time) {
	for _, c := range p.creds {
		if !c.cooldownUntil.IsZero() && !c.cooldownUntil.After(now) && c.errorCount < disableThreshold {
			c.active = true
			c.cooldownUntil = time.Time{}
		}
	}
}

func (p *Pool) pickRoundRobin(eligible []*Credential) *Credential {
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].RatePerMinute > eligible[j].RatePerMinute
	})
	chosen := eligible[p.cursor%len(eligible)]
	p.cursor++
	return chosen
}

func pickLeastUsed(eligible []*Credential) *Credential {
	chosen := eligible[0]
	for _, c := range eligible[1:] {
		if len(c.window) < len(chosen.window) {
			chosen = c
		}
	}
	return chosen
}

func (p *Pool) pickBestPerformance(eligible []*Credential) *Credential {
	maxRate := 0
	for _, c := range p.creds {
		if c.RatePerMinute > maxRate {
			maxRate = c.RatePerMinute
		}
	}

	chosen := eligible[0]
	best := score(chosen, maxRate)
	for _, c := range eligible[1:] {
		if s := score(c, maxRate); s > best {
			chosen, best = c, s
		}
	}
	return chosen
}

func score(c *Credential, maxRate int) float64 {
	errRate := 0.0
	if c.requestCount > 0 {
		errRate = float64(c.errorCount) / float64(c.requestCount)
	}
	return 0.7*(float64(c.RatePerMinute)/float64(maxRate)) + 0.3*(1-10*errRate)
}

func (c *Credential) pruneWindow(now time.Time) {
	cutoff := now.Add(-windowSize)
	i := 0
	for i < len(c.window) && !c.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		c.window = c.window[i:]
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "too many requests")
}
