package risk

import (
	"math"
	"testing"

	"github.com/rustyeddy/exitengine/market"
	"github.com/stretchr/testify/assert"
)

func TestCheckPlan(t *testing.T) {
	t.Parallel()

	long := market.TradePlan{Side: market.Long, Entry: 100, Stop: 95, TP1: 107.5, TP2: 115}

	tests := []struct {
		name   string
		policy Policy
		plan   market.TradePlan
		open   int
		code   string
	}{
		{name: "valid long", plan: long},
		{name: "valid short", plan: market.TradePlan{Side: market.Short, Entry: 100, Stop: 105, TP1: 90}},
		{name: "no side", plan: market.TradePlan{Entry: 100, Stop: 95}, code: CodeBadSide},
		{name: "no stop", plan: market.TradePlan{Side: market.Long, Entry: 100}, code: CodeNoStopOrEntry},
		{name: "zero distance", plan: market.TradePlan{Side: market.Long, Entry: 100, Stop: 100}, code: CodeRiskDistanceZero},
		{name: "long stop above entry", plan: market.TradePlan{Side: market.Long, Entry: 100, Stop: 101}, code: CodeStopWrongSide},
		{name: "short target above entry", plan: market.TradePlan{Side: market.Short, Entry: 100, Stop: 105, TP1: 101}, code: CodeTargetWrongSide},
		{name: "tp2 wrong side", plan: market.TradePlan{Side: market.Long, Entry: 100, Stop: 95, TP1: 105, TP2: 99}, code: CodeTargetWrongSide},
		{name: "rr too low", policy: Policy{MinRR: 2}, plan: long, code: CodeRRTooLow},
		{name: "too many open", policy: Policy{MaxOpenPositions: 2}, plan: long, open: 2, code: CodeTooManyOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CheckPlan(tt.policy, tt.plan, tt.open)
			assert.Equal(t, tt.code, d.Code())
			assert.Equal(t, tt.code == "", d.Allowed)
		})
	}
}

func TestCheckPlanRR(t *testing.T) {
	t.Parallel()

	d := CheckPlan(Policy{}, market.TradePlan{Side: market.Long, Entry: 100, Stop: 95, TP1: 107.5}, 0)
	assert.InDelta(t, 1.5, d.PlannedRR, 1e-12)
	assert.InDelta(t, 5.0, d.RiskDistance, 1e-12)
}

func TestRiskHelpers(t *testing.T) {
	t.Parallel()

	assert.Zero(t, RR(100, 100, 110))
	assert.InDelta(t, 2.0, RR(100, 95, 110), 1e-12)
	assert.True(t, math.IsInf(RiskPct(10, 0), 1))
	assert.InDelta(t, 0.01, RiskPct(100, 10000), 1e-12)
}
