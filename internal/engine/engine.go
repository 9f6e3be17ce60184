// Package engine implements the deterministic rule-matching engine that
// assigns categories to candidate transactions.
package engine

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/household-ledger/internal/logging"
	"github.com/household-ledger/internal/models"
	"github.com/household-ledger/internal/types"
)

const (
	// SuggestionThreshold is the minimum confidence at which an external
	// suggestion is accepted without rule matching
	SuggestionThreshold = 0.75

	// AutoRulePriority is the priority assigned to rules created from an
	// accepted suggestion: above nothing in particular, below rules a user
	// has explicitly ranked higher
	AutoRulePriority = 50
)

// Candidate is a transaction being considered for categorization.
// HouseholdID scopes any rule the engine derives from an accepted
// suggestion; one engine instance serves every household.
type Candidate struct {
	HouseholdID string
	Description string
	Merchant    string
	Amount      decimal.Decimal
	Direction   types.TransactionDirection
}

// Assignment is the outcome of one categorization call. CategoryID is empty
// when no strategy matched; the caller marks the transaction needs-review.
type Assignment struct {
	CategoryID string
	Source     types.CategorizationSource
	Confidence float64
}

// Suggestion is a category proposal from an external model
type Suggestion struct {
	CategoryID string
	Confidence float64
}

// Suggester proposes a category for a candidate before rule matching runs.
// Implementations wrap an external model; the engine only depends on the
// threshold contract.
type Suggester interface {
	Suggest(ctx context.Context, c *Candidate) (*Suggestion, error)
}

// RuleCreator persists a rule derived from an accepted suggestion so future
// imports match without consulting the model again.
type RuleCreator func(ctx context.Context, rule *models.CategoryRule) error

// Engine evaluates a household's rules against candidates
type Engine struct {
	suggester   Suggester
	ruleCreator RuleCreator
	logger      *logging.Logger
}

// NewEngine creates a categorization engine. Suggester and ruleCreator are
// optional; without them the engine is pure rule matching.
func NewEngine(suggester Suggester, ruleCreator RuleCreator) *Engine {
	return &Engine{
		suggester:   suggester,
		ruleCreator: ruleCreator,
		logger:      logging.GetGlobalLogger().WithField("component", "engine"),
	}
}

// kindRank orders matcher kinds by specificity: a merchant name is a stronger
// signal than a description keyword, which is stronger than a free regexp.
func kindRank(kind types.MatcherKind) int {
	switch kind {
	case types.MatchMerchant:
		return 0
	case types.MatchKeyword:
		return 1
	default:
		return 2
	}
}

// orderRules sorts rules into evaluation order.
//
// Priority is the primary key and higher numbers win: priority expresses how
// much the household trusts a rule, not the order it was written in. Matcher
// kind breaks ties (merchant before keyword before pattern), and rule ID
// breaks remaining ties so storage order never changes the winner.
func orderRules(rules []*models.CategoryRule) []*models.CategoryRule {
	ordered := make([]*models.CategoryRule, len(rules))
	copy(ordered, rules)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		if kindRank(ordered[i].Kind) != kindRank(ordered[j].Kind) {
			return kindRank(ordered[i].Kind) < kindRank(ordered[j].Kind)
		}
		return ordered[i].ID < ordered[j].ID
	})

	return ordered
}

// matches reports whether a single rule matches the candidate. A rule whose
// pattern fails to compile is skipped, never fatal to the whole call.
func (e *Engine) matches(rule *models.CategoryRule, c *Candidate) bool {
	switch rule.Kind {
	case types.MatchMerchant:
		// An empty merchant never matches a merchant rule
		if c.Merchant == "" {
			return false
		}
		return strings.Contains(strings.ToLower(c.Merchant), strings.ToLower(rule.Pattern))
	case types.MatchKeyword:
		return strings.Contains(strings.ToLower(c.Description), strings.ToLower(rule.Pattern))
	case types.MatchPattern:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			e.logger.WithFields(map[string]interface{}{
				"ruleId":  rule.ID,
				"pattern": rule.Pattern,
			}).Warn("Skipping rule with invalid pattern")
			return false
		}
		return re.MatchString(c.Description)
	default:
		return false
	}
}

// Categorize evaluates the household's rules against a candidate.
//
// When a suggester is configured it runs first; a suggestion at or above
// SuggestionThreshold is accepted directly and, when possible, converted
// into a rule so the household self-improves. Otherwise the first matching
// rule in precedence order wins with confidence 1.0 (rules are definitional,
// not probabilistic). No match yields the fallback assignment.
func (e *Engine) Categorize(ctx context.Context, c *Candidate, rules []*models.CategoryRule) Assignment {
	if assignment, ok := e.trySuggestion(ctx, c); ok {
		return assignment
	}

	for _, rule := range orderRules(rules) {
		if !rule.Active {
			continue
		}
		if e.matches(rule, c) {
			return Assignment{
				CategoryID: rule.CategoryID,
				Source:     types.RuleSource(rule.Kind),
				Confidence: 1.0,
			}
		}
	}

	return Assignment{
		CategoryID: "",
		Source:     types.SourceFallback,
		Confidence: 0,
	}
}

// trySuggestion runs the optional suggester and accepts its proposal when it
// clears the confidence threshold. Suggester failures are logged and ignored;
// rule matching always remains available.
func (e *Engine) trySuggestion(ctx context.Context, c *Candidate) (Assignment, bool) {
	if e.suggester == nil {
		return Assignment{}, false
	}

	suggestion, err := e.suggester.Suggest(ctx, c)
	if err != nil {
		e.logger.WithError(err).Warn("Suggestion step failed, falling back to rule matching")
		return Assignment{}, false
	}
	if suggestion == nil || suggestion.Confidence < SuggestionThreshold {
		return Assignment{}, false
	}

	e.createRuleFromSuggestion(ctx, c, suggestion)

	return Assignment{
		CategoryID: suggestion.CategoryID,
		Source:     types.SourceAISuggestion,
		Confidence: suggestion.Confidence,
	}, true
}

// createRuleFromSuggestion derives a rule from an accepted suggestion:
// a merchant rule when the candidate has a merchant, otherwise a keyword
// rule on the first word of the description.
func (e *Engine) createRuleFromSuggestion(ctx context.Context, c *Candidate, s *Suggestion) {
	if e.ruleCreator == nil {
		return
	}

	if c.HouseholdID == "" {
		e.logger.Warn("Candidate carries no household, not creating suggestion rule")
		return
	}

	rule := &models.CategoryRule{
		HouseholdID: c.HouseholdID,
		CategoryID:  s.CategoryID,
		Priority:    AutoRulePriority,
		Active:      true,
		Provenance:  types.ProvenanceAISuggestion,
	}

	switch {
	case c.Merchant != "":
		rule.Kind = types.MatchMerchant
		rule.Pattern = c.Merchant
	default:
		keyword := firstKeyword(c.Description)
		if keyword == "" {
			return
		}
		rule.Kind = types.MatchKeyword
		rule.Pattern = keyword
	}

	if err := e.ruleCreator(ctx, rule); err != nil {
		e.logger.WithError(err).Warn("Failed to create rule from suggestion")
	}
}

// firstKeyword returns the first whitespace-separated word of a description
func firstKeyword(description string) string {
	fields := strings.Fields(description)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
