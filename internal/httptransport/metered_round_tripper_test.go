package httptransport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func Test_withRoundTripper(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		err        error
	}{
		{
			name:       "successful_response",
			statusCode: http.StatusNoContent,
		},
		{
			name:       "error_response",
			statusCode: http.StatusForbidden,
		},
		{
			name:       "internal_error_response",
			statusCode: http.StatusInternalServerError,
		},
		{
			name:       "unhandled_status_response",
			statusCode: http.StatusPermanentRedirect,
		},
		{
			name: "client_error",
			err:  fmt.Errorf("something went wrong"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			histVec, counterVec := newTestMetrics()

			next := &mockRoundTripper{
				res: &http.Response{
					StatusCode: tt.statusCode,
				},
				err:     tt.err,
				timeout: time.Nanosecond,
			}

			mrt := NewMeteredRoundTripper(next, t.Name(), nil, histVec, counterVec, DefaultTTFBTimeout)
			r := httptest.NewRequest("GET", "/", nil)

			res, err := mrt.RoundTrip(r)
			if tt.err != nil {
				require.Error(t, err)
				counterCount := testutil.ToFloat64(counterVec.WithLabelValues("error"))
				require.Equal(t, float64(1), counterCount, "error")

				return
			}
			require.NoError(t, err)
			require.NotNil(t, res)

			statusCode := strconv.Itoa(res.StatusCode)
			counterCount := testutil.ToFloat64(counterVec.WithLabelValues(statusCode))
			require.Equal(t, float64(1), counterCount, statusCode)
		})
	}
}

func TestRoundTripTTFBTimeout(t *testing.T) {
	histVec, counterVec := newTestMetrics()

	next := &mockRoundTripper{
		res: &http.Response{
			StatusCode: http.StatusOK,
		},
		timeout: time.Second,
	}

	mrt := NewMeteredRoundTripper(next, t.Name(), nil, histVec, counterVec, time.Millisecond)
	req, err := http.NewRequest("GET", "https://0xkiire.example", nil)
	require.NoError(t, err)

	res, err := mrt.RoundTrip(req)
	require.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled, "context must have been canceled after ttfb timeout")
}

func TestRoundTripAgainstServer(t *testing.T) {
	histVec, counterVec := newTestMetrics()
	tracerVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_network_trace_seconds",
	}, []string{"request_stage"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	}))
	defer server.Close()

	mrt := NewMeteredRoundTripper(NewTransport(), t.Name(), tracerVec, histVec, counterVec, time.Second)
	client := &http.Client{Transport: mrt}

	res, err := client.Get(server.URL)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))

	require.Equal(t, float64(1), testutil.ToFloat64(counterVec.WithLabelValues("200")))
	require.Equal(t, 1, testutil.CollectAndCount(histVec))
	require.Positive(t, testutil.CollectAndCount(tracerVec), "a plain HTTP dial records GetConn, GotConn and more")
}

func TestLoadCertDir(t *testing.T) {
	require.NoError(t, loadCertDir(nil, ""))
	require.Error(t, loadCertDir(nil, t.TempDir()+"/missing"))
}

func newTestMetrics() (*prometheus.HistogramVec, *prometheus.CounterVec) {
	histVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_network_duration_seconds",
	}, []string{"status_code"})

	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_network_requests_total",
	}, []string{"status_code"})

	return histVec, counterVec
}

type mockRoundTripper struct {
	res     *http.Response
	err     error
	timeout time.Duration
}

func (mrt *mockRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	select {
	case <-r.Context().Done():
		return nil, r.Context().Err()
	case <-time.After(mrt.timeout):
		return mrt.res, mrt.err
	}
}
