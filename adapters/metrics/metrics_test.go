package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/billgate/billgate/adapters/metrics"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}

	if m.WebhookEvents == nil {
		t.Error("WebhookEvents is nil")
	}
	if m.GateDecisions == nil {
		t.Error("GateDecisions is nil")
	}
	if m.BreakerBlocks == nil {
		t.Error("BreakerBlocks is nil")
	}
	if m.UsageReports == nil {
		t.Error("UsageReports is nil")
	}
	if m.ReconcileMismatches == nil {
		t.Error("ReconcileMismatches is nil")
	}
	if m.ConfigReloads == nil {
		t.Error("ConfigReloads is nil")
	}
}

func TestWebhookEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.WebhookEvents.WithLabelValues("subscription_created", "applied").Inc()
	m.WebhookEvents.WithLabelValues("subscription_cancelled", "error").Add(2)
	m.WebhookDuplicates.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	if !found["billgate_webhook_events_total"] {
		t.Error("billgate_webhook_events_total not gathered")
	}
	if !found["billgate_webhook_duplicates_total"] {
		t.Error("billgate_webhook_duplicates_total not gathered")
	}
}

func TestBreakerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.BreakerBlocks.WithLabelValues("caller_day").Inc()
	m.BreakerSpendCents.WithLabelValues("global_hour").Set(1250)
	m.BreakerStoreFailures.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	if len(families) != 3 {
		t.Errorf("gathered %d families, want 3", len(families))
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewWithRegistry(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	metrics.NewWithRegistry(reg)
}
