// Package types provides common type definitions for the household ledger system.
package types

import "fmt"

// TransactionDirection represents whether money enters or leaves an account
type TransactionDirection string

const (
	// DirectionIncome represents money entering the household
	DirectionIncome TransactionDirection = "income"
	// DirectionExpense represents money leaving the household
	DirectionExpense TransactionDirection = "expense"
)

// AccountType represents the kind of money container an account is
type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountCredit   AccountType = "credit"
	AccountCash     AccountType = "cash"
)

// CategoryType represents how a category is treated in matching and reporting
type CategoryType string

const (
	// CategoryIncome represents income categories
	CategoryIncome CategoryType = "income"
	// CategoryFixed represents fixed, expected expense categories
	CategoryFixed CategoryType = "fixed"
	// CategoryVariable represents variable expense categories
	CategoryVariable CategoryType = "variable"
)

// MatcherKind represents the matching strategy of a category rule
type MatcherKind string

const (
	// MatchMerchant matches the rule pattern as a case-insensitive
	// substring of the transaction merchant
	MatchMerchant MatcherKind = "merchant"
	// MatchKeyword matches the rule pattern as a case-insensitive
	// substring of the transaction description
	MatchKeyword MatcherKind = "keyword"
	// MatchPattern matches the transaction description against a
	// regular expression
	MatchPattern MatcherKind = "pattern"
)

// RuleProvenance records where a category rule came from
type RuleProvenance string

const (
	// ProvenanceManual marks rules created directly by the user
	ProvenanceManual RuleProvenance = "manual"
	// ProvenanceCorrection marks rules derived from a manual recategorization
	ProvenanceCorrection RuleProvenance = "correction"
	// ProvenanceAISuggestion marks rules created from an accepted AI suggestion
	ProvenanceAISuggestion RuleProvenance = "ai_suggestion"
)

// SyncJobStatus represents the lifecycle state of a sync attempt.
// Transitions are forward-only: running -> success | error.
type SyncJobStatus string

const (
	JobRunning SyncJobStatus = "running"
	JobSuccess SyncJobStatus = "success"
	JobError   SyncJobStatus = "error"
)

// CategorizationSource records which path assigned a transaction's category
type CategorizationSource string

const (
	// SourceManual marks a category chosen by the user
	SourceManual CategorizationSource = "manual"
	// SourceProvider marks a category taken from the provider's own label
	SourceProvider CategorizationSource = "provider"
	// SourceRuleMerchant marks a merchant-substring rule match
	SourceRuleMerchant CategorizationSource = "rule_merchant"
	// SourceRuleKeyword marks a keyword-substring rule match
	SourceRuleKeyword CategorizationSource = "rule_keyword"
	// SourceRulePattern marks a regular-expression rule match
	SourceRulePattern CategorizationSource = "rule_pattern"
	// SourceAISuggestion marks an accepted suggestion from an external model
	SourceAISuggestion CategorizationSource = "ai_suggestion"
	// SourceFallback marks a transaction no strategy could categorize
	SourceFallback CategorizationSource = "fallback"
)

// RuleSource returns the categorization source tag for a matcher kind
func RuleSource(kind MatcherKind) CategorizationSource {
	switch kind {
	case MatchMerchant:
		return SourceRuleMerchant
	case MatchKeyword:
		return SourceRuleKeyword
	default:
		return SourceRulePattern
	}
}

// ScrapeErrorType classifies expected provider failures
type ScrapeErrorType string

const (
	// ScrapeErrorAuth indicates the provider rejected the credentials or
	// token; the connection needs interactive re-authentication
	ScrapeErrorAuth ScrapeErrorType = "auth_required"
	// ScrapeErrorTransient indicates a temporary provider fault that is
	// safe to retry on the next cycle
	ScrapeErrorTransient ScrapeErrorType = "transient"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
