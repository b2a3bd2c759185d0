package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interact-space/database-safe-layer/internal/sqlast"
)

func classifySQL(t *testing.T, c *Classifier, sql string) Assessment {
	t.Helper()
	stmt, err := sqlast.NewPGParser().Parse(sql)
	require.NoError(t, err)
	return c.Classify(stmt)
}

func ruleNames(a Assessment) []string {
	names := make([]string, 0, len(a.Matches))
	for _, m := range a.Matches {
		names = append(names, m.Rule)
	}
	return names
}

func TestClassify_DDLIsCritical(t *testing.T) {
	c := New(nil)

	for _, sql := range []string{
		"DROP TABLE visits",
		"TRUNCATE visits",
		"ALTER TABLE visits ADD COLUMN note text",
	} {
		a := classifySQL(t, c, sql)
		assert.Equal(t, LevelCritical, a.Level, sql)
		assert.Equal(t, []string{RuleDDL}, ruleNames(a), sql)
	}
}

func TestClassify_UnfilteredWriteIsHigh(t *testing.T) {
	c := New(nil)

	a := classifySQL(t, c, "DELETE FROM visits")
	assert.Equal(t, LevelHigh, a.Level)
	assert.Equal(t, []string{RuleUnfiltered}, ruleNames(a))

	a = classifySQL(t, c, "UPDATE visits SET seen = 1")
	assert.Equal(t, LevelHigh, a.Level)
	assert.Equal(t, []string{RuleUnfiltered}, ruleNames(a))
}

func TestClassify_FilteredWriteIsLow(t *testing.T) {
	c := New(nil)

	a := classifySQL(t, c, "DELETE FROM visits WHERE id = 1")
	assert.Equal(t, LevelLow, a.Level)
	assert.Equal(t, []string{RuleDefault}, ruleNames(a))
}

func TestClassify_SelectIsLow(t *testing.T) {
	c := New(nil)

	a := classifySQL(t, c, "SELECT * FROM visits JOIN users ON users.id = visits.user_id")
	assert.Equal(t, LevelLow, a.Level)
	assert.Equal(t, []string{RuleDefault}, ruleNames(a))
}

func TestClassify_ProtectedTableEscalatesOneStep(t *testing.T) {
	c := New(NewRegistry([]string{"users"}))

	// LOW -> MEDIUM
	a := classifySQL(t, c, "UPDATE users SET active = 0 WHERE id = 1")
	assert.Equal(t, LevelMedium, a.Level)
	assert.Equal(t, []string{RuleProtected}, ruleNames(a))

	// HIGH (unfiltered) -> CRITICAL
	a = classifySQL(t, c, "DELETE FROM users")
	assert.Equal(t, LevelCritical, a.Level)
	assert.Equal(t, []string{RuleUnfiltered, RuleProtected}, ruleNames(a))
}

func TestClassify_ProtectedEscalationAppliesOncePerStatement(t *testing.T) {
	c := New(NewRegistry([]string{"users", "visits"}))

	a := classifySQL(t, c, "UPDATE visits SET seen = 1 FROM users WHERE users.id = visits.user_id")
	// One protected-table step plus one multi-table step: LOW -> MEDIUM -> HIGH.
	assert.Equal(t, LevelHigh, a.Level)
	assert.Equal(t, []string{RuleProtected, RuleMultiTable}, ruleNames(a))
}

func TestClassify_MultiTableMutationEscalates(t *testing.T) {
	c := New(nil)

	a := classifySQL(t, c, "DELETE FROM visits WHERE user_id IN (SELECT id FROM banned_users)")
	assert.Equal(t, LevelMedium, a.Level)
	assert.Equal(t, []string{RuleMultiTable}, ruleNames(a))
}

func TestClassify_MultiTableSelectDoesNotEscalate(t *testing.T) {
	c := New(NewRegistry([]string{"users"}))

	a := classifySQL(t, c, "SELECT * FROM visits JOIN users ON users.id = visits.user_id")
	assert.Equal(t, LevelLow, a.Level)
}

func TestClassify_RegistryIsCaseInsensitive(t *testing.T) {
	c := New(NewRegistry([]string{"Users"}))

	a := classifySQL(t, c, "DELETE FROM users WHERE id = 5")
	assert.Equal(t, LevelMedium, a.Level)
}

func TestClassify_Deterministic(t *testing.T) {
	c := New(NewRegistry([]string{"users", "payments"}))
	sql := "UPDATE users SET active = 0 FROM payments WHERE payments.user_id = users.id"

	first := classifySQL(t, c, sql)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, classifySQL(t, c, sql))
	}
}

func TestFailClosed(t *testing.T) {
	a := FailClosed(errors.New("syntax error at or near"))
	assert.Equal(t, LevelCritical, a.Level)
	require.Len(t, a.Matches, 1)
	assert.Equal(t, RuleParseFailed, a.Matches[0].Rule)
	assert.Contains(t, a.Matches[0].Reason, "syntax error")
}

func TestEscalateForRows(t *testing.T) {
	low := Assessment{Level: LevelLow, Matches: []Match{{Rule: RuleDefault, Reason: "x"}}}

	raised := EscalateForRows(low, 3214, 1000)
	assert.Equal(t, LevelHigh, raised.Level)
	assert.Equal(t, []string{RuleDefault, RuleRowEstimate}, ruleNames(raised))

	// Original assessment is untouched.
	assert.Equal(t, LevelLow, low.Level)
	assert.Len(t, low.Matches, 1)

	// Below threshold: unchanged.
	assert.Equal(t, low, EscalateForRows(low, 999, 1000))
	// At threshold: raised.
	assert.Equal(t, LevelHigh, EscalateForRows(low, 1000, 1000).Level)
	// Never lowers HIGH or CRITICAL.
	high := Assessment{Level: LevelHigh}
	assert.Equal(t, high, EscalateForRows(high, 5000, 1000))
	critical := Assessment{Level: LevelCritical}
	assert.Equal(t, critical, EscalateForRows(critical, 5000, 1000))
	// Disabled threshold: unchanged.
	assert.Equal(t, low, EscalateForRows(low, 5000, 0))
}

func TestParseLevelRoundTrip(t *testing.T) {
	for _, l := range []Level{LevelLow, LevelMedium, LevelHigh, LevelCritical} {
		parsed, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
	_, err := ParseLevel("EXTREME")
	assert.Error(t, err)
}
