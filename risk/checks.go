package risk

import (
	"fmt"

	"github.com/rustyeddy/exitengine/market"
)

// Violation codes.
const (
	CodeBadSide          = "BAD_SIDE"
	CodeNoStopOrEntry    = "NO_STOP_OR_ENTRY"
	CodeRiskDistanceZero = "RISK_DISTANCE_ZERO"
	CodeStopWrongSide    = "STOP_WRONG_SIDE"
	CodeTargetWrongSide  = "TARGET_WRONG_SIDE"
	CodeRRTooLow         = "RR_TOO_LOW"
	CodeTooManyOpen      = "TOO_MANY_OPEN_POSITIONS"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	RiskDistance float64
	PlannedRR    float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Code returns the first violation code, or "" when allowed.
func (d Decision) Code() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Code
}

// CheckPlan validates a trade plan's geometry and the policy guards.
// openPositions is the number of positions currently open.
func CheckPlan(p Policy, plan market.TradePlan, openPositions int) Decision {
	d := Decision{Allowed: true}

	if !plan.Side.Valid() {
		d.add(CodeBadSide, fmt.Sprintf("side %d is not long or short", plan.Side))
		return d
	}
	if !(plan.Entry > 0) || !(plan.Stop > 0) {
		d.add(CodeNoStopOrEntry, "entry/stop must be set")
		return d
	}

	d.RiskDistance = plan.Risk()
	if d.RiskDistance == 0 {
		d.add(CodeRiskDistanceZero, "entry equals stop")
		return d
	}

	dir := plan.Side.Sign()
	if dir*(plan.Entry-plan.Stop) < 0 {
		d.add(CodeStopWrongSide,
			fmt.Sprintf("%s stop %.8g is on the profit side of entry %.8g", plan.Side, plan.Stop, plan.Entry))
	}
	if plan.TP1 != 0 {
		if dir*(plan.TP1-plan.Entry) <= 0 {
			d.add(CodeTargetWrongSide,
				fmt.Sprintf("%s tp1 %.8g is not beyond entry %.8g", plan.Side, plan.TP1, plan.Entry))
		}
		d.PlannedRR = RR(plan.Entry, plan.Stop, plan.TP1)
		if p.MinRR > 0 && d.PlannedRR < p.MinRR {
			d.add(CodeRRTooLow, fmt.Sprintf("RR %.2f below minimum %.2f", d.PlannedRR, p.MinRR))
		}
	}
	if plan.TP2 != 0 && dir*(plan.TP2-plan.Entry) <= 0 {
		d.add(CodeTargetWrongSide,
			fmt.Sprintf("%s tp2 %.8g is not beyond entry %.8g", plan.Side, plan.TP2, plan.Entry))
	}

	if p.MaxOpenPositions > 0 && openPositions >= p.MaxOpenPositions {
		d.add(CodeTooManyOpen,
			fmt.Sprintf("open positions %d >= max %d", openPositions, p.MaxOpenPositions))
	}

	return d
}
