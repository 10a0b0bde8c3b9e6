package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/service"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check
type Check struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Report is the overall health report
type Report struct {
	Status    Status                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Checks    map[string]Check         `json:"checks"`
	Services  []service.StatusSnapshot `json:"services,omitempty"`
}

// Ready reports whether the process can serve runs.
func (r Report) Ready() bool {
	return r.Status != StatusUnhealthy
}

// Checker is an interface for health checkers
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// StatusProvider exposes the status of every registered service.
// *service.Manager implements it.
type StatusProvider interface {
	GetAllStatuses() map[string]*service.ServiceStatus
}

// Manager manages health checks
type Manager struct {
	logger    *logger.Logger
	checkers  []Checker
	statuses  StatusProvider
	startTime time.Time
	mu        sync.RWMutex
}

// NewManager creates a new health check manager. statuses may be nil.
func NewManager(log *logger.Logger, statuses StatusProvider) *Manager {
	return &Manager{
		logger:    log,
		checkers:  make([]Checker, 0),
		statuses:  statuses,
		startTime: time.Now(),
	}
}

// RegisterChecker registers a health checker
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Check performs all health checks. A service in the error state degrades the
// report; an unhealthy check makes it unhealthy.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	checks := make(map[string]Check, len(checkers))
	overall := StatusHealthy

	for _, checker := range checkers {
		check := checker.Check(ctx)
		checks[check.Name] = check
		overall = worse(overall, check.Status)
		if check.Status != StatusHealthy {
			m.logger.Debug("Health check not healthy",
				"check", check.Name,
				"status", string(check.Status),
				"message", check.Message,
			)
		}
	}

	var services []service.StatusSnapshot
	if m.statuses != nil {
		for _, st := range m.statuses.GetAllStatuses() {
			snap := st.Snapshot()
			if snap.Status == service.StatusError {
				overall = worse(overall, StatusDegraded)
			}
			services = append(services, snap)
		}
		sort.Slice(services, func(i, j int) bool {
			return services[i].Name < services[j].Name
		})
	}

	return Report{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Checks:    checks,
		Services:  services,
	}
}

func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
