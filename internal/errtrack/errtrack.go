// Package errtrack is the error-tracking sink for failures that are
// contained rather than returned.
package errtrack

import (
	"sync"

	"github.com/stagepass/session-service/pkg/logger"
	"github.com/stagepass/session-service/pkg/metrics"
)

type Reporter interface {
	Report(op string, err error)
	Breadcrumb(msg string)
}

// LogReporter logs reports and counts them per operation. It keeps the last
// breadcrumbs so a report carries the trail that led to it.
type LogReporter struct {
	mu     sync.Mutex
	crumbs []string
	max    int
}

func NewLogReporter(maxCrumbs int) *LogReporter {
	if maxCrumbs <= 0 {
		maxCrumbs = 20
	}
	return &LogReporter{max: maxCrumbs}
}

func (r *LogReporter) Breadcrumb(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crumbs = append(r.crumbs, msg)
	if len(r.crumbs) > r.max {
		r.crumbs = r.crumbs[len(r.crumbs)-r.max:]
	}
	logger.Debugf("breadcrumb: %s", msg)
}

func (r *LogReporter) Report(op string, err error) {
	if err == nil {
		return
	}
	metrics.SideEffectErrors.WithLabelValues(op).Inc()
	logger.Errorf("%s failed: %v (trail: %v)", op, err, r.Breadcrumbs())
}

// Breadcrumbs returns a copy of the retained trail, oldest first.
func (r *LogReporter) Breadcrumbs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.crumbs...)
}
