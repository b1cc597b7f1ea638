package errtrack

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stagepass/session-service/pkg/logger"
	"github.com/stagepass/session-service/pkg/metrics"
	"github.com/stretchr/testify/require"
)

func TestLogReporter_KeepsBoundedTrail(t *testing.T) {
	r := NewLogReporter(2)
	r.Breadcrumb("a")
	r.Breadcrumb("b")
	r.Breadcrumb("c")
	require.Equal(t, []string{"b", "c"}, r.Breadcrumbs())
}

func TestLogReporter_ReportLogsAndCounts(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(&bytes.Buffer{})
	logger.Init("info")

	r := NewLogReporter(0)
	r.Breadcrumb("profile delivered")
	before := testutil.ToFloat64(metrics.SideEffectErrors.WithLabelValues("backfill"))
	r.Report("backfill", errors.New("boom"))
	r.Report("backfill", nil)

	require.Equal(t, before+1, testutil.ToFloat64(metrics.SideEffectErrors.WithLabelValues("backfill")))
	require.Contains(t, buf.String(), "backfill failed: boom")
	require.Contains(t, buf.String(), "profile delivered")
}
