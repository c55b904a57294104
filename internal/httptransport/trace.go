package httptransport

import (
	"crypto/tls"
	"net/http/httptrace"
	"time"

	log "github.com/sirupsen/logrus"
)

func (mrt *meteredRoundTripper) newTracer(start time.Time) *httptrace.ClientTrace {
	trace := &httptrace.ClientTrace{
		GetConn: func(host string) {
			mrt.httpTraceObserve("httptrace.ClientTrace.GetConn", start)

			log.WithFields(log.Fields{
				"host": host,
			}).Traceln("httptrace.ClientTrace.GetConn")
		},
		GotConn: func(connInfo httptrace.GotConnInfo) {
			mrt.httpTraceObserve("httptrace.ClientTrace.GotConn", start)

			log.WithFields(log.Fields{
				"reused":       connInfo.Reused,
				"was_idle":     connInfo.WasIdle,
				"idle_time_ms": connInfo.IdleTime.Milliseconds(),
			}).Traceln("httptrace.ClientTrace.GotConn")
		},
		GotFirstResponseByte: func() {
			mrt.httpTraceObserve("httptrace.ClientTrace.GotFirstResponseByte", start)
		},
		DNSDone: func(d httptrace.DNSDoneInfo) {
			mrt.httpTraceObserve("httptrace.ClientTrace.DNSDone", start)

			log.WithError(d.Err).Traceln("httptrace.ClientTrace.DNSDone")
		},
		ConnectDone: func(network string, addr string, err error) {
			mrt.httpTraceObserve("httptrace.ClientTrace.ConnectDone", start)

			l := log.WithFields(log.Fields{
				"network": network,
				"address": addr,
			})

			if err != nil {
				l.WithError(err).Error("httptrace.ClientTrace.ConnectDone")
				return
			}

			l.Traceln("httptrace.ClientTrace.ConnectDone")
		},
		TLSHandshakeDone: func(connState tls.ConnectionState, err error) {
			mrt.httpTraceObserve("httptrace.ClientTrace.TLSHandshakeDone", start)

			l := log.WithFields(log.Fields{
				"version":            connState.Version,
				"connection_resumed": connState.DidResume,
			})

			if err != nil {
				l.WithError(err).Error("httptrace.ClientTrace.TLSHandshakeDone")
				return
			}

			l.Traceln("httptrace.ClientTrace.TLSHandshakeDone")
		},
	}

	return trace
}

func (mrt *meteredRoundTripper) httpTraceObserve(label string, start time.Time) {
	if mrt.tracer == nil {
		return
	}
	mrt.tracer.WithLabelValues(label).Observe(time.Since(start).Seconds())
}
