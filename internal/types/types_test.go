package types

import (
	"testing"
)

func TestRuleSource(t *testing.T) {
	tests := []struct {
		kind MatcherKind
		want CategorizationSource
	}{
		{MatchMerchant, SourceRuleMerchant},
		{MatchKeyword, SourceRuleKeyword},
		{MatchPattern, SourceRulePattern},
	}

	for _, tt := range tests {
		if got := RuleSource(tt.kind); got != tt.want {
			t.Errorf("RuleSource(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestServiceError_Error(t *testing.T) {
	err := &ServiceError{Code: "NOT_FOUND", Message: "connection missing"}
	want := "NOT_FOUND: connection missing"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
