// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package metrics exports Prometheus metrics for sessions: state transitions,
// the number of sessions in each state, renewal outcomes and token endpoint
// requests.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/capsession/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "capsession"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Observable is a session whose events can be observed; satisfied by
// *session.Session.
type Observable interface {
	State() session.State
	Subscribe(l session.Listener) (unsubscribe func())
}

// Metrics holds the session collectors.
type Metrics struct {
	transitions          *prometheus.CounterVec
	current              *prometheus.GaugeVec
	renewals             *prometheus.CounterVec
	expiring             prometheus.Counter
	tokenRequests        *prometheus.CounterVec
	tokenRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil).  Collectors which are already
// registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	const op = "metrics.New"
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by the state entered.",
		}, []string{"state"}),
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions",
			Help:      "Observed sessions by current state.",
		}, []string{"state"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "session_renewals_total",
			Help:      "Token renewals by result.",
		}, []string{"result"}),
		expiring: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "access_token_expiring_total",
			Help:      "Access token expiring notifications.",
		}),
		tokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "token_requests_total",
			Help:      "Token endpoint requests by grant type and result (success or the error class).",
		}, []string{"grant_type", "result"}),
		tokenRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "token_request_duration_seconds",
			Help:      "Token endpoint request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"grant_type"}),
	}
	var err error
	if m.transitions, err = register(reg, m.transitions); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.current, err = register(reg, m.current); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.renewals, err = register(reg, m.renewals); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.expiring, err = register(reg, m.expiring); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.tokenRequests, err = register(reg, m.tokenRequests); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.tokenRequestDuration, err = register(reg, m.tokenRequestDuration); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// every state is exported, even before a session enters it
	for _, st := range session.Statuses() {
		m.transitions.WithLabelValues(string(st))
		m.current.WithLabelValues(string(st))
	}
	return m, nil
}

// register registers c, returning the existing collector instead when an
// equal one is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return c, err
		}
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return c, err
		}
		return existing, nil
	}
	return c, nil
}

// Observe subscribes to s and records its transitions until the returned
// func is called.
func (m *Metrics) Observe(s Observable) (stop func()) {
	var (
		mu   sync.Mutex
		last = s.State().Status()
		done bool
	)
	m.current.WithLabelValues(string(last)).Inc()

	unsubscribe := s.Subscribe(func(e session.Event) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		switch e.Type {
		case session.AccessTokenExpiring:
			m.expiring.Inc()
			return
		case session.StateChanged:
		default:
			return
		}
		next := e.State.Status()
		m.transitions.WithLabelValues(string(next)).Inc()
		m.current.WithLabelValues(string(last)).Dec()
		m.current.WithLabelValues(string(next)).Inc()
		if last == session.StatusRenewing {
			switch next {
			case session.StatusAuthenticated:
				m.renewals.WithLabelValues(ResultSuccess).Inc()
			case session.StatusError:
				m.renewals.WithLabelValues(ResultFailure).Inc()
			}
		}
		last = next
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			defer mu.Unlock()
			done = true
			m.current.WithLabelValues(string(last)).Dec()
		})
	}
}

// InstrumentExchanger returns a session.TokenExchanger which records the
// outcome and latency of every request made by next.
func (m *Metrics) InstrumentExchanger(next session.TokenExchanger) session.TokenExchanger {
	return &instrumentedExchanger{next: next, m: m}
}

// Handler serves the metrics gathered by g (prometheus.DefaultGatherer when
// nil).
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type instrumentedExchanger struct {
	next session.TokenExchanger
	m    *Metrics
}

func (e *instrumentedExchanger) ExchangeAuthorizationCode(ctx context.Context, id *oidc.ClientIdentity, md *oidc.ProviderMetadata, code string, opt ...oidc.Option) (*oidc.TokenSet, error) {
	start := time.Now()
	ts, err := e.next.ExchangeAuthorizationCode(ctx, id, md, code, opt...)
	e.m.observeTokenRequest(oidc.GrantTypeAuthorizationCode, start, err)
	return ts, err
}

func (e *instrumentedExchanger) Refresh(ctx context.Context, id *oidc.ClientIdentity, md *oidc.ProviderMetadata, t oidc.RefreshToken) (*oidc.TokenSet, error) {
	start := time.Now()
	ts, err := e.next.Refresh(ctx, id, md, t)
	e.m.observeTokenRequest(oidc.GrantTypeRefreshToken, start, err)
	return ts, err
}

func (m *Metrics) observeTokenRequest(grantType string, start time.Time, err error) {
	m.tokenRequestDuration.WithLabelValues(grantType).Observe(time.Since(start).Seconds())
	result := ResultSuccess
	if err != nil {
		result = string(oidc.Classify(err))
	}
	m.tokenRequests.WithLabelValues(grantType, result).Inc()
}
