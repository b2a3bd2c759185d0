package sqlast

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, sql string) *Statement {
	t.Helper()
	stmt, err := NewPGParser().Parse(sql)
	require.NoError(t, err)
	return stmt
}

func TestParse_Kinds(t *testing.T) {
	cases := []struct {
		sql  string
		kind Kind
	}{
		{"SELECT * FROM visits", KindSelect},
		{"INSERT INTO visits (id) VALUES (1)", KindInsert},
		{"UPDATE visits SET seen = 1 WHERE id = 2", KindUpdate},
		{"DELETE FROM visits WHERE id = 3", KindDelete},
		{"DROP TABLE visits", KindDDL},
		{"TRUNCATE visits", KindDDL},
		{"ALTER TABLE visits ADD COLUMN note text", KindDDL},
		{"CREATE TABLE scratch (id int)", KindDDL},
		{"CREATE INDEX idx_visits_date ON visits (visit_date)", KindDDL},
	}
	for _, tc := range cases {
		t.Run(tc.sql, func(t *testing.T) {
			assert.Equal(t, tc.kind, mustParse(t, tc.sql).Kind)
		})
	}
}

func TestParse_Predicate(t *testing.T) {
	assert.True(t, mustParse(t, "DELETE FROM visits WHERE visit_date < '2010-01-01'").HasPredicate)
	assert.False(t, mustParse(t, "DELETE FROM visits").HasPredicate)
	assert.True(t, mustParse(t, "UPDATE visits SET seen = 1 WHERE id = 7").HasPredicate)
	assert.False(t, mustParse(t, "UPDATE visits SET seen = 1").HasPredicate)
}

func TestParse_Tables(t *testing.T) {
	cases := []struct {
		sql    string
		tables []string
	}{
		{"SELECT * FROM visits", []string{"visits"}},
		{"SELECT * FROM visits v JOIN users u ON u.id = v.user_id", []string{"visits", "users"}},
		{"DELETE FROM visits WHERE user_id IN (SELECT id FROM banned_users)", []string{"visits", "banned_users"}},
		{"UPDATE visits SET seen = 1 FROM users WHERE users.id = visits.user_id", []string{"visits", "users"}},
		{"INSERT INTO archive SELECT * FROM visits", []string{"archive", "visits"}},
		{"DROP TABLE visits", []string{"visits"}},
		{"SELECT 1", nil},
	}
	for _, tc := range cases {
		t.Run(tc.sql, func(t *testing.T) {
			assert.Equal(t, tc.tables, mustParse(t, tc.sql).Tables)
		})
	}
}

func TestParse_TablesDeduplicated(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM visits a JOIN visits b ON a.id = b.id")
	assert.Equal(t, []string{"visits"}, stmt.Tables)
}

func TestParse_InsertShapes(t *testing.T) {
	literal := mustParse(t, "INSERT INTO visits (id) VALUES (1), (2), (3)")
	assert.Equal(t, int64(3), literal.LiteralRows)
	assert.False(t, literal.FromSubquery)

	fromSelect := mustParse(t, "INSERT INTO archive SELECT * FROM visits WHERE seen = 1")
	assert.Zero(t, fromSelect.LiteralRows)
	assert.True(t, fromSelect.FromSubquery)
}

func TestParse_Errors(t *testing.T) {
	parser := NewPGParser()

	_, err := parser.Parse("DELETE FROM WHERE")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)

	_, err = parser.Parse("SELECT 1; SELECT 2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestRewriteToCount_LiteralInsert(t *testing.T) {
	parser := NewPGParser()
	stmt := mustParse(t, "INSERT INTO visits (id) VALUES (1), (2)")

	rw, err := parser.RewriteToCount(stmt)
	require.NoError(t, err)
	assert.True(t, rw.Literal)
	assert.True(t, rw.Exact)
	assert.Equal(t, int64(2), rw.LiteralCount)
	assert.Empty(t, rw.Query)
}

func TestRewriteToCount_Delete(t *testing.T) {
	parser := NewPGParser()
	stmt := mustParse(t, "DELETE FROM visits WHERE visit_date < '2010-01-01'")

	rw, err := parser.RewriteToCount(stmt)
	require.NoError(t, err)
	assert.False(t, rw.Literal)
	assert.True(t, rw.Exact)
	assert.Contains(t, rw.Query, "count(*)")
	assert.Contains(t, rw.Query, "estimated_rows")
	assert.Contains(t, rw.Query, "visits")
	assert.Contains(t, rw.Query, "2010-01-01")
	assert.NotContains(t, strings.ToLower(rw.Query), "delete")
}

func TestRewriteToCount_UnfilteredUpdate(t *testing.T) {
	parser := NewPGParser()
	stmt := mustParse(t, "UPDATE visits SET seen = 1")

	rw, err := parser.RewriteToCount(stmt)
	require.NoError(t, err)
	assert.True(t, rw.Exact)
	assert.Contains(t, rw.Query, "count(*)")
	assert.NotContains(t, strings.ToLower(rw.Query), "where")
}

func TestRewriteToCount_Select(t *testing.T) {
	parser := NewPGParser()
	stmt := mustParse(t, "SELECT id FROM visits WHERE seen = 1 ORDER BY id")

	rw, err := parser.RewriteToCount(stmt)
	require.NoError(t, err)
	assert.True(t, rw.Exact)
	assert.Contains(t, rw.Query, "count(*)")
	// ORDER BY cannot change a count and is dropped from the inner query.
	assert.NotContains(t, strings.ToLower(rw.Query), "order by")
}

func TestRewriteToCount_InsertFromSelectIsApproximate(t *testing.T) {
	parser := NewPGParser()
	stmt := mustParse(t, "INSERT INTO archive SELECT * FROM visits WHERE seen = 1")

	rw, err := parser.RewriteToCount(stmt)
	require.NoError(t, err)
	assert.False(t, rw.Literal)
	assert.False(t, rw.Exact)
	assert.Contains(t, rw.Query, "count(*)")
	assert.Contains(t, rw.Query, "visits")
	assert.NotContains(t, strings.ToLower(rw.Query), "insert")
}

func TestRewriteToCount_DDLHasNoRewrite(t *testing.T) {
	parser := NewPGParser()
	stmt := mustParse(t, "DROP TABLE visits")

	_, err := parser.RewriteToCount(stmt)
	assert.ErrorIs(t, err, ErrNoRewrite)
}
