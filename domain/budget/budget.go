// Package budget provides the pure decision logic for the cost circuit
// breaker: three nested rolling-window spend caps checked on every unit
// of paid work. All functions are deterministic with no side effects.
package budget

import (
	"time"
)

// Layer identifies one budget layer. Layers are checked narrowest
// first, so a single hot caller trips its own cap before the global ones.
type Layer string

const (
	LayerCaller     Layer = "caller"
	LayerGlobalHour Layer = "global_hour"
	LayerGlobalDay  Layer = "global_day"
)

// ReasonBudgetExceeded is the designed rejection condition. Like quota
// rejections it is an outcome, not an error.
const ReasonBudgetExceeded = "budget_exceeded"

// Caps holds the spend ceilings per layer, in cents.
type Caps struct {
	CallerDailyCents  int64
	GlobalHourlyCents int64
	GlobalDailyCents  int64
}

// Spend is a snapshot of accumulated cost per layer, in cents.
type Spend struct {
	CallerDay  int64
	GlobalHour int64
	GlobalDay  int64
}

// Decision is the outcome of a breaker check. When blocked, Layer names
// the first cap that was hit.
type Decision struct {
	Allowed bool
	Layer   Layer
	Reason  string
}

// LayerState describes one layer for the read-only status surface.
type LayerState struct {
	Layer      Layer `json:"layer"`
	SpendCents int64 `json:"spend_cents"`
	CapCents   int64 `json:"cap_cents"`
	Remaining  int64 `json:"remaining_cents"`
	Exceeded   bool  `json:"exceeded"`
}

// Evaluate decides whether more paid work may be dispatched given the
// current spend. A layer is tripped once its accumulated spend reaches
// the cap; a zero or negative cap disables that layer.
func Evaluate(spend Spend, caps Caps) Decision {
	if tripped(spend.CallerDay, caps.CallerDailyCents) {
		return Decision{Layer: LayerCaller, Reason: ReasonBudgetExceeded}
	}
	if tripped(spend.GlobalHour, caps.GlobalHourlyCents) {
		return Decision{Layer: LayerGlobalHour, Reason: ReasonBudgetExceeded}
	}
	if tripped(spend.GlobalDay, caps.GlobalDailyCents) {
		return Decision{Layer: LayerGlobalDay, Reason: ReasonBudgetExceeded}
	}
	return Decision{Allowed: true}
}

func tripped(spend, cap int64) bool {
	return cap > 0 && spend >= cap
}

// States builds the per-layer view for the status endpoint.
func States(spend Spend, caps Caps) []LayerState {
	return []LayerState{
		layerState(LayerCaller, spend.CallerDay, caps.CallerDailyCents),
		layerState(LayerGlobalHour, spend.GlobalHour, caps.GlobalHourlyCents),
		layerState(LayerGlobalDay, spend.GlobalDay, caps.GlobalDailyCents),
	}
}

func layerState(layer Layer, spend, cap int64) LayerState {
	remaining := cap - spend
	if remaining < 0 {
		remaining = 0
	}
	return LayerState{
		Layer:      layer,
		SpendCents: spend,
		CapCents:   cap,
		Remaining:  remaining,
		Exceeded:   tripped(spend, cap),
	}
}

// Counter windows. Keys are bucketed by UTC wall clock so every process
// sharing the counter store agrees on the window; the TTL equals the
// window length, so counters reconstruct themselves by expiry.

const (
	WindowHour = time.Hour
	WindowDay  = 24 * time.Hour
)

// CallerKey returns the per-caller daily counter key.
func CallerKey(callerID string, now time.Time) string {
	return "budget:caller:" + callerID + ":" + now.UTC().Format("20060102")
}

// GlobalHourKey returns the global hourly counter key.
func GlobalHourKey(now time.Time) string {
	return "budget:global:hour:" + now.UTC().Format("2006010215")
}

// GlobalDayKey returns the global daily counter key.
func GlobalDayKey(now time.Time) string {
	return "budget:global:day:" + now.UTC().Format("20060102")
}
