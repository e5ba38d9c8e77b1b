// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}

	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}

	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordOperation(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	OperationDuration.Reset()

	RecordOperation("spi_acquire", "success", 0.001)
	RecordOperation("spi_acquire", "busy", 0.0001)
	RecordOperation("spi_acquire", "busy", 0.0001)

	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues("spi_acquire", "busy")); got != 2 {
		t.Errorf("Expected 2 busy results, got %v", got)
	}
	if count := testutil.CollectAndCount(OperationsTotal); count != 2 {
		t.Errorf("Expected 2 label combinations, got %d", count)
	}
}

func TestRecordWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()

	OperationsTotal.Reset()
	HandshakeWaitsTotal.Reset()
	NotificationsTotal.Reset()

	RecordOperation("wired_release", "success", 0.1)
	RecordHandshakeWait("svdd_sync", OutcomeTimeout, 0.5)
	RecordNotification("spi_end", OutcomeDelivered)

	if count := testutil.CollectAndCount(OperationsTotal); count != 0 {
		t.Errorf("Expected no operations recorded when disabled, got %d", count)
	}
	if count := testutil.CollectAndCount(HandshakeWaitsTotal); count != 0 {
		t.Errorf("Expected no handshake waits recorded when disabled, got %d", count)
	}
	if count := testutil.CollectAndCount(NotificationsTotal); count != 0 {
		t.Errorf("Expected no notifications recorded when disabled, got %d", count)
	}
}

func TestRecordHandshakeWait(t *testing.T) {
	Enable()
	HandshakeWaitsTotal.Reset()

	RecordHandshakeWait("priority_handoff", OutcomeReleased, 0.01)
	RecordHandshakeWait("priority_handoff", OutcomeTimeout, 0.5)

	if got := testutil.ToFloat64(HandshakeWaitsTotal.WithLabelValues("priority_handoff", OutcomeTimeout)); got != 1 {
		t.Errorf("Expected 1 timeout, got %v", got)
	}
}

func TestRecordRailTransition(t *testing.T) {
	Enable()
	RailTransitionsTotal.Reset()

	RecordRailTransition(true)
	if got := testutil.ToFloat64(RailEnabled); got != 1 {
		t.Errorf("Expected rail enabled gauge 1, got %v", got)
	}

	RecordRailTransition(false)
	if got := testutil.ToFloat64(RailEnabled); got != 0 {
		t.Errorf("Expected rail enabled gauge 0, got %v", got)
	}
	if got := testutil.ToFloat64(RailTransitionsTotal.WithLabelValues(DirectionOn)); got != 1 {
		t.Errorf("Expected 1 on transition, got %v", got)
	}
}

func TestSetAccessState(t *testing.T) {
	Enable()
	AccessState.Reset()

	SetAccessState(map[string]bool{"Wired": true, "Spi": false})

	if got := testutil.ToFloat64(AccessState.WithLabelValues("Wired")); got != 1 {
		t.Errorf("Expected Wired=1, got %v", got)
	}
	if got := testutil.ToFloat64(AccessState.WithLabelValues("Spi")); got != 0 {
		t.Errorf("Expected Spi=0, got %v", got)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/spi/acquire", nil))

	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodPost, "409")); got != 1 {
		t.Errorf("Expected 1 recorded request, got %v", got)
	}
}

func TestResponseWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapper := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	wrapper.WriteHeader(http.StatusCreated)
	wrapper.WriteHeader(http.StatusBadRequest)
	if wrapper.statusCode != http.StatusCreated {
		t.Error("Status code should not change after first WriteHeader call")
	}

	wrapper.Flush()
	if !rec.Flushed {
		t.Error("Expected Flush to reach the underlying recorder")
	}
}

type fakeSource struct{}

func (fakeSource) FlagSnapshot() map[string]bool { return map[string]bool{"Idle": true} }
func (fakeSource) RailEnabled() bool             { return true }

func TestResourceCollector(t *testing.T) {
	Enable()
	AccessState.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := StartResourceCollector(ctx, time.Hour, fakeSource{})
	defer collector.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(AccessState.WithLabelValues("Idle")) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := testutil.ToFloat64(AccessState.WithLabelValues("Idle")); got != 1 {
		t.Errorf("Expected Idle=1 after collection, got %v", got)
	}
	if got := testutil.ToFloat64(RailEnabled); got != 1 {
		t.Errorf("Expected rail gauge 1 after collection, got %v", got)
	}
	if got := testutil.ToFloat64(Goroutines); got <= 0 {
		t.Errorf("Expected positive goroutine count, got %v", got)
	}
}
