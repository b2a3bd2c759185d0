// Package classify maps parsed statements to risk levels through a
// deterministic, auditable rule set. Classification is a pure function of
// the statement and the protected-table registry: no I/O, no clocks.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/interact-space/database-safe-layer/internal/sqlast"
)

// Level is the totally ordered risk level.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

// String implements fmt.Stringer using the audit-record spelling.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	case LevelCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel converts the audit-record spelling back to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return LevelLow, nil
	case "MEDIUM":
		return LevelMedium, nil
	case "HIGH":
		return LevelHigh, nil
	case "CRITICAL":
		return LevelCritical, nil
	}
	return LevelLow, fmt.Errorf("unknown risk level %q", s)
}

// escalate bumps a level one step, capped at CRITICAL.
func escalate(l Level) Level {
	if l >= LevelCritical {
		return LevelCritical
	}
	return l + 1
}

// Rule identifiers, stable across releases so audit records stay comparable.
const (
	RuleDDL         = "ddl_statement"
	RuleParseFailed = "parse_failed"
	RuleUnfiltered  = "unfiltered_write"
	RuleProtected   = "protected_table"
	RuleMultiTable  = "multi_table_write"
	RuleRowEstimate = "row_estimate_threshold"
	RuleDefault     = "default_low"
)

// Match records one rule that fired, with human-readable rationale.
type Match struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// Assessment is the classifier's immutable verdict for one statement.
type Assessment struct {
	Level   Level   `json:"level"`
	Matches []Match `json:"matches"`
}

// Reasons flattens the matched rules into audit-record strings.
func (a Assessment) Reasons() []string {
	reasons := make([]string, 0, len(a.Matches))
	for _, m := range a.Matches {
		reasons = append(reasons, m.Rule+": "+m.Reason)
	}
	return reasons
}

// Registry is the protected-table set. Lookup is case-insensitive; tables
// named here always escalate mutating statements one level.
type Registry struct {
	tables map[string]struct{}
}

// NewRegistry builds a registry from configured table names.
func NewRegistry(tables []string) *Registry {
	r := &Registry{tables: make(map[string]struct{}, len(tables))}
	for _, t := range tables {
		name := strings.ToLower(strings.TrimSpace(t))
		if name != "" {
			r.tables[name] = struct{}{}
		}
	}
	return r
}

// IsProtected reports whether the table requires elevated treatment.
func (r *Registry) IsProtected(table string) bool {
	_, ok := r.tables[strings.ToLower(table)]
	return ok
}

// Names returns the protected table names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tables))
	for t := range r.tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// Classifier applies the rule set against one registry.
type Classifier struct {
	registry *Registry
}

// New builds a classifier bound to the given registry.
func New(registry *Registry) *Classifier {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &Classifier{registry: registry}
}

// Classify evaluates every rule against the statement. All matching rules
// are recorded; the final level is the accumulated result of base level plus
// escalations, capped at CRITICAL.
func (c *Classifier) Classify(stmt *sqlast.Statement) Assessment {
	// Rule 1: DDL and anything unrecognized is CRITICAL outright.
	if stmt.Kind == sqlast.KindDDL || stmt.Kind == sqlast.KindUnknown {
		reason := "schema-changing statement (drop/truncate/alter/create)"
		if stmt.Kind == sqlast.KindUnknown {
			reason = "unrecognized statement kind, failing closed"
		}
		return Assessment{
			Level:   LevelCritical,
			Matches: []Match{{Rule: RuleDDL, Reason: reason}},
		}
	}

	a := Assessment{Level: LevelLow}

	// Rule 2: mutating DML without a filtering predicate.
	if (stmt.Kind == sqlast.KindUpdate || stmt.Kind == sqlast.KindDelete) && !stmt.HasPredicate {
		a.Level = LevelHigh
		a.Matches = append(a.Matches, Match{
			Rule:   RuleUnfiltered,
			Reason: fmt.Sprintf("%s without WHERE touches every row", strings.ToUpper(string(stmt.Kind))),
		})
	}

	if stmt.Kind.Mutating() {
		// Rule 3: protected-table escalation, one step per statement.
		// Tables are checked in statement order but reported sorted for
		// deterministic rationale text.
		var protected []string
		for _, t := range stmt.Tables {
			if c.registry.IsProtected(t) {
				protected = append(protected, strings.ToLower(t))
			}
		}
		if len(protected) > 0 {
			sort.Strings(protected)
			a.Level = escalate(a.Level)
			a.Matches = append(a.Matches, Match{
				Rule:   RuleProtected,
				Reason: "write targets protected table(s): " + strings.Join(protected, ", "),
			})
		}

		// Rule 4: mutation referencing more than one table.
		if len(stmt.Tables) > 1 {
			a.Level = escalate(a.Level)
			a.Matches = append(a.Matches, Match{
				Rule:   RuleMultiTable,
				Reason: fmt.Sprintf("mutation references %d tables", len(stmt.Tables)),
			})
		}
	}

	// Rule 5: default for read-only and filtered single-table writes.
	if len(a.Matches) == 0 {
		a.Matches = append(a.Matches, Match{
			Rule:   RuleDefault,
			Reason: "read-only statement or filtered single-table write",
		})
	}

	return a
}

// FailClosed is the assessment for input the parser rejected. Malformed SQL
// is never assumed safe.
func FailClosed(parseErr error) Assessment {
	return Assessment{
		Level: LevelCritical,
		Matches: []Match{{
			Rule:   RuleParseFailed,
			Reason: fmt.Sprintf("statement could not be parsed: %v", parseErr),
		}},
	}
}

// EscalateForRows raises a mutating statement's assessment to HIGH when the
// dry-run estimate meets the configured threshold. It never lowers a level
// and never produces CRITICAL on its own; callers apply it only to mutating
// statements. This is the explicit home of the MEDIUM/HIGH row threshold.
func EscalateForRows(a Assessment, estimatedRows, threshold int64) Assessment {
	if threshold <= 0 || estimatedRows < threshold || a.Level >= LevelHigh {
		return a
	}
	out := Assessment{Level: LevelHigh, Matches: make([]Match, len(a.Matches), len(a.Matches)+1)}
	copy(out.Matches, a.Matches)
	out.Matches = append(out.Matches, Match{
		Rule:   RuleRowEstimate,
		Reason: fmt.Sprintf("estimated %d rows meets threshold %d", estimatedRows, threshold),
	})
	return out
}
