package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveRotation(nil)
	m.ObserveRotation(errors.New("boom"))
	m.IncCrashes()
	m.ObserveRestart(nil)
	m.ObserveAPICall("bind", nil)
	m.ObserveAPICall("bind", errors.New("timeout"))
	m.SetSessionOrdinal(4)

	called := false
	body := scrape(t, m.Handler(func() {
		called = true
		m.SetRelayState("running", []string{"stopped", "running", "crashed"})
		m.SetPhase("active", []string{"standby", "active"})
		m.SetStandby(false)
	}))

	if !called {
		t.Error("updateGauges not called before scrape")
	}
	for _, want := range []string{
		`livecam_rotations_total{outcome="success"} 1`,
		`livecam_rotations_total{outcome="failure"} 1`,
		`livecam_relay_crashes_total 1`,
		`livecam_relay_restarts_total{outcome="success"} 1`,
		`livecam_platform_calls_total{op="bind",outcome="failure"} 1`,
		`livecam_relay_state{state="running"} 1`,
		`livecam_relay_state{state="crashed"} 0`,
		`livecam_phase{phase="active"} 1`,
		`livecam_session_ordinal 4`,
		`livecam_standby 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRotation(nil)
	m.IncCrashes()
	m.ObserveAPICall("create", nil)
	m.SetPhase("active", nil)
	m.SetStandby(true)
}
