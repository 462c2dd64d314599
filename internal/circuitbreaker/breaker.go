// Package circuitbreaker gates delivery attempts per dispatch target so a
// consistently failing downstream stops receiving traffic until a cooldown
// has passed.
package circuitbreaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	closed state = iota
	open
	halfOpen
)

// breaker is the per-target state machine: closed opens after threshold
// consecutive failures, open admits a single probe after the cooldown, and
// the probe result decides between closed and open again.
type breaker struct {
	state    state
	failures int
	openedAt time.Time
}

// CircuitBreaker tracks one breaker per dispatch target name. Targets fail
// independently; a webhook outage never gates a redis list target.
type CircuitBreaker struct {
	mu        sync.Mutex
	targets   map[string]*breaker
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		targets:   make(map[string]*breaker),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow reports whether a delivery to the named target may proceed. An open
// circuit admits one probe attempt once the cooldown has elapsed; further
// attempts are blocked until the probe result is recorded.
func (cb *CircuitBreaker) Allow(target string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b, ok := cb.targets[target]
	if !ok {
		return nil
	}

	if b.state == open && cb.clock().Sub(b.openedAt) >= cb.cooldown {
		b.state = halfOpen
		log.Printf("circuitbreaker: target=%s probing after cooldown", target)
		return nil
	}
	if b.state == closed {
		return nil
	}
	return ErrCircuitOpen
}

// RecordSuccess closes the target's circuit and clears its failure streak.
func (cb *CircuitBreaker) RecordSuccess(target string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b, ok := cb.targets[target]
	if !ok {
		return
	}
	if b.state != closed {
		log.Printf("circuitbreaker: target=%s closed", target)
	}
	b.state = closed
	b.failures = 0
}

// RecordFailure counts a consecutive failure. A failed half-open probe
// reopens the circuit immediately; a closed circuit opens at the threshold.
func (cb *CircuitBreaker) RecordFailure(target string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b, ok := cb.targets[target]
	if !ok {
		b = &breaker{}
		cb.targets[target] = b
	}

	b.failures++
	if b.state == halfOpen || b.failures >= cb.threshold {
		if b.state != open {
			log.Printf("circuitbreaker: target=%s opened after %d consecutive failures", target, b.failures)
		}
		b.state = open
		b.openedAt = cb.clock()
	}
}
