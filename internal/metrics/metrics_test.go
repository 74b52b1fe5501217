package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveMessage("telegram", "replied")
	m.ObserveMessage("telegram", "replied")
	m.ObserveCacheLookup("lang", true)
	m.ObserveCacheLookup("lang", false)
	m.ObserveCacheWriteError("aiResp")
	m.ObserveSend("messenger", false)
	m.ObserveAutoPost("ok")

	require.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues("telegram", "replied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("lang", "hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("lang", "miss")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheWrites.WithLabelValues("aiResp")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Sends.WithLabelValues("messenger", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.AutoPostRuns.WithLabelValues("ok")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveMessage("telegram", "replied")
		m.ObserveCacheLookup("lang", true)
		m.ObserveCacheWriteError("lang")
		m.ObserveSend("telegram", true)
		m.ObserveAutoPost("ok")
	})
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveSend("telegram", true)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `nwanne_sends_total{platform="telegram",status="ok"} 1`)
}
