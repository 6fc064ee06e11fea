package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// compareFunc evaluates one condition against a scored item.
type compareFunc func(item *domain.ScoredItem, value any) bool

type dispatchKey struct {
	field domain.ConditionField
	op    domain.Operator
}

// dispatch lists every supported field/operator combination.
var dispatch = map[dispatchKey]compareFunc{
	{domain.FieldText, domain.OpContains}: stringOp(textOf, contains),
	{domain.FieldText, domain.OpMatches}:  stringOp(textOf, matches),
	{domain.FieldText, domain.OpEquals}:   stringOp(textOf, equals),

	{domain.FieldURL, domain.OpContains}: stringOp(urlOf, contains),
	{domain.FieldURL, domain.OpMatches}:  stringOp(urlOf, matches),
	{domain.FieldURL, domain.OpEquals}:   stringOp(urlOf, equals),

	{domain.FieldCategory, domain.OpContains}: stringOp(categoryOf, contains),
	{domain.FieldCategory, domain.OpMatches}:  stringOp(categoryOf, matches),
	{domain.FieldCategory, domain.OpEquals}:   stringOp(categoryOf, equals),

	{domain.FieldRiskScore, domain.OpGreaterThan}: numericOp(func(a, b float64) bool { return a > b }),
	{domain.FieldRiskScore, domain.OpLessThan}:    numericOp(func(a, b float64) bool { return a < b }),
	{domain.FieldRiskScore, domain.OpEquals}:      numericOp(func(a, b float64) bool { return a == b }),
}

// Supported reports whether the field/operator combination can be evaluated.
func Supported(field domain.ConditionField, op domain.Operator) bool {
	_, ok := dispatch[dispatchKey{field, op}]
	return ok
}

// Match reports whether the conditions of rule hold for item.
// It ignores IsActive and the CEL expression; a rule with no conditions never matches.
func Match(rule *domain.Rule, item *domain.ScoredItem) bool {
	if len(rule.Conditions) == 0 {
		return false
	}

	switch rule.ConditionLogic {
	case domain.LogicOr:
		for _, c := range rule.Conditions {
			if evalCondition(c, item) {
				return true
			}
		}
		return false
	default:
		for _, c := range rule.Conditions {
			if !evalCondition(c, item) {
				return false
			}
		}
		return true
	}
}

// evalCondition treats unsupported combinations as a non-match.
func evalCondition(c domain.Condition, item *domain.ScoredItem) bool {
	fn, ok := dispatch[dispatchKey{c.Field, c.Operator}]
	if !ok {
		return false
	}
	return fn(item, c.Value)
}

func textOf(item *domain.ScoredItem) string     { return item.Content }
func urlOf(item *domain.ScoredItem) string      { return item.URL() }
func categoryOf(item *domain.ScoredItem) string { return item.PrimaryCategory() }

func stringOp(get func(*domain.ScoredItem) string, cmp func(subject, value string) bool) compareFunc {
	return func(item *domain.ScoredItem, value any) bool {
		s, ok := toString(value)
		if !ok {
			return false
		}
		return cmp(get(item), s)
	}
}

func numericOp(cmp func(a, b float64) bool) compareFunc {
	return func(item *domain.ScoredItem, value any) bool {
		v, ok := toNumber(value)
		if !ok {
			return false
		}
		return cmp(float64(item.RiskScore), v)
	}
}

func contains(subject, value string) bool { return strings.Contains(subject, value) }
func equals(subject, value string) bool   { return subject == value }

func matches(subject, pattern string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(subject)
}

// patterns caches successfully compiled regular expressions by source.
var patterns sync.Map

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patterns.Store(pattern, re)
	return re, nil
}

// toString coerces scalar condition values to their string form.
func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// toNumber coerces numeric values and numeric strings. NaN and non-numeric input fail.
func toNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// validateCondition checks a single condition at rule creation time.
func validateCondition(i int, c domain.Condition) error {
	if !Supported(c.Field, c.Operator) {
		return fmt.Errorf("condition %d: operator %q is not supported for field %q", i, c.Operator, c.Field)
	}
	if c.Value == nil {
		return fmt.Errorf("condition %d: value is required", i)
	}
	if c.Field == domain.FieldRiskScore {
		if _, ok := toNumber(c.Value); !ok {
			return fmt.Errorf("condition %d: riskScore requires a numeric value, got %v", i, c.Value)
		}
		return nil
	}
	s, ok := toString(c.Value)
	if !ok {
		return fmt.Errorf("condition %d: value must be a string, got %T", i, c.Value)
	}
	if c.Operator == domain.OpMatches {
		if _, err := compilePattern(s); err != nil {
			return fmt.Errorf("condition %d: invalid pattern: %w", i, err)
		}
	}
	return nil
}
