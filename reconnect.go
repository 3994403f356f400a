package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ReconnectPolicy computes backoff delays: BaseDelay·2^attempt, capped at MaxDelay.
type ReconnectPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p *ReconnectPolicy) defaults() {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
}

// Delay returns the wait before the given zero-based attempt.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	p.defaults()
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if d >= p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Reconnector supervises a ConnectionManager and reconnects after a backoff
// whenever the connection drops or a connect attempt fails. An intentional
// Disconnect does not trigger it, and a pending backoff ends without dialing
// until the next explicit Connect. The backoff resets on every
// successful connection.
type Reconnector struct {
	conn    *ConnectionManager
	policy  ReconnectPolicy
	log     logrus.FieldLogger
	metrics *Metrics

	mu      sync.Mutex
	attempt int
	running bool
	cancel  context.CancelFunc
	unsub   func()
	done    chan struct{}
	wake    chan struct{}
}

// NewReconnector creates a stopped supervisor for conn. log and metrics may be nil.
func NewReconnector(conn *ConnectionManager, policy ReconnectPolicy, log logrus.FieldLogger, metrics *Metrics) *Reconnector {
	policy.defaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconnector{
		conn:    conn,
		policy:  policy,
		log:     log.WithField("component", "reconnect"),
		metrics: metrics,
	}
}

// Start begins supervising. Calling Start on a running supervisor is a no-op.
func (r *Reconnector) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.wake = make(chan struct{}, 1)
	r.attempt = 0
	r.unsub = r.conn.OnStateChange(r.onState)
	go r.loop(ctx, r.wake, r.done)
}

// Stop ends supervision and cancels any pending backoff or in-flight dial.
// It does not disconnect.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, unsub, done := r.cancel, r.unsub, r.done
	r.mu.Unlock()

	unsub()
	cancel()
	<-done
}

// Attempt returns the number of consecutive attempts since the last successful connection.
func (r *Reconnector) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

func (r *Reconnector) onState(state ConnState, err error) {
	switch {
	case state == StateConnected:
		r.mu.Lock()
		r.attempt = 0
		r.mu.Unlock()
	case state == StateDisconnected && err != nil:
		r.mu.Lock()
		wake := r.wake
		r.mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (r *Reconnector) loop(ctx context.Context, wake <-chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}

		r.mu.Lock()
		attempt := r.attempt
		r.attempt++
		r.mu.Unlock()

		delay := r.policy.Delay(attempt)
		r.log.WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay}).Info("Reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if r.conn.State() != StateDisconnected {
			continue
		}
		// A failure reports a Disconnected transition with a cause, which wakes the loop again.
		attempted, err := r.conn.resume(ctx)
		if !attempted {
			r.mu.Lock()
			r.attempt = 0
			r.mu.Unlock()
			r.log.Info("Reconnect abandoned after disconnect")
			continue
		}
		r.metrics.reconnectAttempt()
		if err != nil {
			r.log.WithError(err).Debug("Reconnect attempt failed")
		}
	}
}
