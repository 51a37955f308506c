package energygrid

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// PollStatus is the lifecycle state of a polling session.
type PollStatus int

const (
	// PollIdle means no session is running.
	PollIdle PollStatus = iota
	// PollActive means cycles are being scheduled.
	PollActive
	// PollCompleted means the resource reached a success-terminal state.
	PollCompleted
	// PollFailed means the resource reached a failure-terminal state.
	PollFailed
	// PollTimedOut means the attempt bound was hit with no terminal state.
	PollTimedOut
)

func (s PollStatus) String() string {
	switch s {
	case PollActive:
		return "polling"
	case PollCompleted:
		return "completed"
	case PollFailed:
		return "failed"
	case PollTimedOut:
		return "timed-out"
	default:
		return "idle"
	}
}

// PollSample is one observation of the remote resource.
type PollSample struct {
	// Status is the remote status field value.
	Status string
	// Resource is the full normalized resource.
	Resource any
	// Message carries the remote-supplied error text, if any.
	Message string
}

// PollFunc fetches the current remote representation of the polled resource.
type PollFunc func(ctx context.Context) (*PollSample, error)

// PollConfig bounds and terminal-state sets for a polling session.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
	// SuccessStates are status values that complete the session (default: completed).
	SuccessStates []string
	// FailureStates are status values that fail the session (default: failed).
	FailureStates []string
	OnComplete    func(resource any)
	OnError       func(message string)
}

// Poller repeatedly re-fetches a single resource on a fixed interval until a
// terminal state or the attempt bound. Start is idempotent; Stop clears the
// timer so no further cycle fires; there is no mid-cycle abort of an
// in-flight fetch.
type Poller struct {
	fetch PollFunc
	cfg   PollConfig

	mu       sync.Mutex
	status   PollStatus
	attempts int
	stop     chan struct{}

	logger  Logger
	debug   *DebugConfig
	metrics *MetricsCollector
}

// NewPoller builds a poller over the given fetch function. Interval defaults
// to 2s and MaxAttempts to 30 when unset.
func NewPoller(fetch PollFunc, cfg PollConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	if len(cfg.SuccessStates) == 0 {
		cfg.SuccessStates = []string{"completed"}
	}
	if len(cfg.FailureStates) == 0 {
		cfg.FailureStates = []string{"failed"}
	}
	return &Poller{fetch: fetch, cfg: cfg, status: PollIdle}
}

// NewReportPoller polls a report-generation resource through the client
// pipeline, reading status and error text from the normalized payload.
func (c *Client) NewReportPoller(path string, cfg PollConfig) *Poller {
	fetch := func(ctx context.Context) (*PollSample, error) {
		res, err := c.Call(ctx, http.MethodGet, path, nil, nil)
		if err != nil {
			return nil, err
		}
		sample := &PollSample{Resource: res.Payload}
		if obj, ok := res.Payload.(map[string]any); ok {
			if s, ok := obj["status"].(string); ok {
				sample.Status = s
			}
			if msg, ok := stringAlias(obj, "errorMessage", "error", "message"); ok {
				sample.Message = msg
			}
		}
		return sample, nil
	}
	p := NewPoller(fetch, cfg)
	p.logger = c.logger
	p.debug = c.debug
	p.metrics = c.metrics
	return p
}

// Status reports the session state.
func (p *Poller) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Attempts reports completed cycles in the current or last session.
func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Start begins a polling session. Starting an already-active session is a
// no-op, so exactly one timer ever runs.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.status == PollActive {
		p.mu.Unlock()
		return
	}
	p.status = PollActive
	p.attempts = 0
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	go p.run(ctx, stop)
}

// Stop cancels an active session. No cycle fires after Stop returns; an
// in-flight fetch is not aborted but its outcome is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != PollActive {
		return
	}
	close(p.stop)
	p.stop = nil
	p.status = PollIdle
}

func (p *Poller) run(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			p.finish(stop, PollTimedOut, "polling cancelled")
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if p.status != PollActive {
			p.mu.Unlock()
			return
		}
		p.attempts++
		attempts := p.attempts
		p.mu.Unlock()

		sample, err := p.fetch(ctx)

		if p.debug != nil && p.debug.Enabled && p.debug.LogPolling && p.logger != nil {
			status := ""
			if sample != nil {
				status = sample.Status
			}
			p.logger.Debug("Poll cycle", "attempt", attempts, "maxAttempts", p.cfg.MaxAttempts, "status", status)
		}

		if err == nil && sample != nil {
			if containsStatus(p.cfg.SuccessStates, sample.Status) {
				p.metrics.RecordPollCycle("completed")
				p.finishComplete(stop, sample.Resource)
				return
			}
			if containsStatus(p.cfg.FailureStates, sample.Status) {
				message := sample.Message
				if message == "" {
					message = "report generation failed"
				}
				p.metrics.RecordPollCycle("failed")
				p.finish(stop, PollFailed, message)
				return
			}
		}
		p.metrics.RecordPollCycle("progress")

		if attempts >= p.cfg.MaxAttempts {
			p.metrics.RecordPollCycle("timeout")
			p.finish(stop, PollTimedOut,
				fmt.Sprintf("timed out after %d attempts", attempts))
			return
		}
	}
}

// finishComplete transitions to completed and fires the completion callback
// exactly once.
func (p *Poller) finishComplete(stop chan struct{}, resource any) {
	p.mu.Lock()
	if p.status != PollActive || p.stop != stop {
		p.mu.Unlock()
		return
	}
	p.status = PollCompleted
	p.stop = nil
	p.mu.Unlock()

	if p.cfg.OnComplete != nil {
		p.cfg.OnComplete(resource)
	}
}

func (p *Poller) finish(stop chan struct{}, status PollStatus, message string) {
	p.mu.Lock()
	if p.status != PollActive || p.stop != stop {
		p.mu.Unlock()
		return
	}
	p.status = status
	p.stop = nil
	p.mu.Unlock()

	if p.cfg.OnError != nil {
		p.cfg.OnError(message)
	}
}

func containsStatus(states []string, status string) bool {
	for _, s := range states {
		if s == status {
			return true
		}
	}
	return false
}
