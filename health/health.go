// Package health reports whether the registry and its boundary connections
// are usable.
package health

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// worse returns the more severe of two statuses
func worse(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// CheckResult is the outcome of one checker
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// Report aggregates the results of a check run. Status is the most severe
// result.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Checks    map[string]CheckResult `json:"checks"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
}

// Checker is a single named health check
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Registry holds the checkers of one process
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	metadata map[string]any
}

// NewRegistry creates an empty checker registry
func NewRegistry() *Registry {
	return &Registry{
		checkers: make(map[string]Checker),
		metadata: make(map[string]any),
	}
}

// Register adds or replaces a checker by name
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

// Unregister removes a checker
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// Names returns the registered checker names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetMetadata attaches a value to every report
func (r *Registry) SetMetadata(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[key] = value
}

// Check runs every checker, or only the named ones when names is non-empty.
// Unknown names are reported unhealthy. Checkers still running when ctx ends
// are reported unhealthy with the context error.
func (r *Registry) Check(ctx context.Context, names ...string) Report {
	start := time.Now()
	selected, metadata, missing := r.selection(names)

	report := Report{
		Status:   StatusHealthy,
		Checks:   make(map[string]CheckResult, len(selected)+len(missing)),
		Metadata: metadata,
	}
	for _, name := range missing {
		report.Checks[name] = CheckResult{
			Name:      name,
			Status:    StatusUnhealthy,
			Message:   "no such check",
			Timestamp: start,
		}
		report.Status = StatusUnhealthy
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(selected))
	)
	done := make(chan struct{})
	for _, checker := range selected {
		wg.Add(1)
		go func(checker Checker) {
			defer wg.Done()
			res := checker.Check(ctx)
			mu.Lock()
			results[checker.Name()] = res
			mu.Unlock()
		}(checker)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	for _, checker := range selected {
		res, ok := results[checker.Name()]
		if !ok {
			res = CheckResult{
				Name:      checker.Name(),
				Status:    StatusUnhealthy,
				Message:   "check timed out",
				Duration:  time.Since(start),
				Timestamp: time.Now(),
				Error:     ctx.Err().Error(),
			}
		}
		report.Checks[checker.Name()] = res
	}
	mu.Unlock()

	for _, res := range report.Checks {
		report.Status = worse(report.Status, res.Status)
	}
	report.Timestamp = time.Now()
	report.Duration = time.Since(start)
	return report
}

func (r *Registry) selection(names []string) ([]Checker, map[string]any, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata := make(map[string]any, len(r.metadata))
	for k, v := range r.metadata {
		metadata[k] = v
	}

	if len(names) == 0 {
		all := make([]Checker, 0, len(r.checkers))
		for _, c := range r.checkers {
			all = append(all, c)
		}
		return all, metadata, nil
	}

	var selected []Checker
	var missing []string
	for _, name := range names {
		if c, ok := r.checkers[name]; ok {
			selected = append(selected, c)
		} else {
			missing = append(missing, name)
		}
	}
	return selected, metadata, missing
}

// Handler serves the report as JSON. GET and HEAD only. The "check" query
// parameter limits the run to a comma-separated list of checkers. The status
// code is 503 when the report is unhealthy.
func Handler(r *Registry, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var names []string
		if q := req.URL.Query().Get("check"); q != "" {
			names = strings.Split(q, ",")
		}

		ctx, cancel := context.WithTimeout(req.Context(), timeout)
		defer cancel()
		report := r.Check(ctx, names...)

		body, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			http.Error(w, "failed to encode health report", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if req.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	})
}
