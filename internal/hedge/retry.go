package hedge

import "strings"

// RetryRule rewrites the stop percent and retries a leg open once when the
// venue's error matches. Some venues reject stops they consider too tight
// with an identifiable message; a declarative rule keeps that behavior
// inspectable instead of string-matched inline.
type RetryRule struct {
	Match       string
	StopPercent float64
}

type RetryPolicy struct {
	Rules []RetryRule
}

// Adjust returns the risk parameters to retry with, if any rule matches the
// error. At most one adjustment applies; legs are never retried twice.
func (p RetryPolicy) Adjust(err error, risk RiskParams) (RiskParams, bool) {
	if err == nil {
		return risk, false
	}
	msg := err.Error()
	for _, rule := range p.Rules {
		if rule.Match == "" || rule.StopPercent <= 0 {
			continue
		}
		if strings.Contains(msg, rule.Match) {
			return risk.WithStopPercent(rule.StopPercent), true
		}
	}
	return risk, false
}
