package enums

import "strings"

// Plan identifies what a purchase buys: a fixed-term VIP membership or a
// perpetual one. The duration of the fixed-term plan is configuration.
type Plan string

const (
	PlanVIPMonth    Plan = "vip_month"
	PlanVIPLifetime Plan = "vip_lifetime"
)

// Perpetual reports whether the plan never expires.
func (p Plan) Perpetual() bool {
	return p == PlanVIPLifetime
}

func ParsePlan(raw string) (Plan, bool) {
	switch Plan(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanVIPMonth:
		return PlanVIPMonth, true
	case PlanVIPLifetime:
		return PlanVIPLifetime, true
	default:
		return "", false
	}
}
