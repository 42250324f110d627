package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cqhawk/cqevent/internal/metrics"
)

func TestCollectorsAreUsable(t *testing.T) {
	before := testutil.ToFloat64(metrics.EventsClassified.WithLabelValues("PokeNotifyEvent", "exact"))
	metrics.EventsClassified.WithLabelValues("PokeNotifyEvent", "exact").Inc()
	after := testutil.ToFloat64(metrics.EventsClassified.WithLabelValues("PokeNotifyEvent", "exact"))
	assert.Equal(t, before+1, after)

	before = testutil.ToFloat64(metrics.ClassificationErrors.WithLabelValues("missing_field"))
	metrics.ClassificationErrors.WithLabelValues("missing_field").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ClassificationErrors.WithLabelValues("missing_field")))

	metrics.ClassificationDuration.Observe(0.0001)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.ClassificationDuration))
}
