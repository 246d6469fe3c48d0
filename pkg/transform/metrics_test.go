package transform

import (
	"sort"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Duration.Observe(0.01)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	sort.Strings(names)

	want := []string{
		"tsx_transform_cache_hits_total",
		"tsx_transform_cache_misses_total",
		"tsx_transform_duration_seconds",
		"tsx_transform_engine_calls_total",
		"tsx_transform_errors_total",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("metric names = %v, want %v", names, want)
	}
	if n := testutil.CollectAndCount(m.Duration, "tsx_transform_duration_seconds"); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}
