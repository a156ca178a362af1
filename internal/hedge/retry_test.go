package hedge

import (
	"errors"
	"testing"
)

func TestRetryPolicyMatches(t *testing.T) {
	policy := RetryPolicy{Rules: []RetryRule{
		{Match: "stop too close", StopPercent: 2},
	}}
	risk := RiskParams{Mode: RiskPercent, TargetPercent: 10, StopPercent: 1}
	adjusted, ok := policy.Adjust(errors.New("venue says: stop too close to entry"), risk)
	if !ok {
		t.Fatalf("expected rule to match")
	}
	if adjusted.StopPercent != 2 {
		t.Fatalf("expected stop percent 2, got %v", adjusted.StopPercent)
	}
	if adjusted.TargetPercent != 10 {
		t.Fatalf("target percent must be untouched, got %v", adjusted.TargetPercent)
	}
}

func TestRetryPolicyNoMatch(t *testing.T) {
	policy := RetryPolicy{Rules: []RetryRule{
		{Match: "stop too close", StopPercent: 2},
	}}
	risk := RiskParams{Mode: RiskPercent, StopPercent: 1}
	if _, ok := policy.Adjust(errors.New("insufficient margin"), risk); ok {
		t.Fatalf("expected no match")
	}
	if _, ok := policy.Adjust(nil, risk); ok {
		t.Fatalf("nil error must not match")
	}
}

func TestRetryPolicySkipsMalformedRules(t *testing.T) {
	policy := RetryPolicy{Rules: []RetryRule{
		{Match: "", StopPercent: 2},
		{Match: "anything", StopPercent: 0},
	}}
	if _, ok := policy.Adjust(errors.New("anything at all"), RiskParams{}); ok {
		t.Fatalf("malformed rules must not match")
	}
}
