package sqlast

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// PGParser implements Parser on top of the PostgreSQL grammar via pg_query.
// The generated SQL sticks to the portable subset (plain identifiers, count
// queries, WHERE clauses), so it runs unchanged against SQLite-family
// engines as well.
type PGParser struct{}

// NewPGParser returns the default production parser.
func NewPGParser() *PGParser {
	return &PGParser{}
}

// Parse implements Parser.
func (p *PGParser) Parse(sql string) (*Statement, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, parseError(err)
	}
	if len(result.Stmts) != 1 {
		return nil, parseError(fmt.Errorf("expected exactly one statement, got %d", len(result.Stmts)))
	}

	stmt := &Statement{
		Raw:         sql,
		Fingerprint: Fingerprint(sql),
		Kind:        KindUnknown,
	}

	node := result.Stmts[0].Stmt
	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		stmt.Kind = KindSelect
	case *pg_query.Node_InsertStmt:
		stmt.Kind = KindInsert
		describeInsert(n.InsertStmt, stmt)
	case *pg_query.Node_UpdateStmt:
		stmt.Kind = KindUpdate
		stmt.HasPredicate = n.UpdateStmt.WhereClause != nil
	case *pg_query.Node_DeleteStmt:
		stmt.Kind = KindDelete
		stmt.HasPredicate = n.DeleteStmt.WhereClause != nil
	case *pg_query.Node_DropStmt,
		*pg_query.Node_TruncateStmt,
		*pg_query.Node_AlterTableStmt,
		*pg_query.Node_CreateStmt,
		*pg_query.Node_CreateTableAsStmt,
		*pg_query.Node_IndexStmt,
		*pg_query.Node_RenameStmt:
		stmt.Kind = KindDDL
	}

	seen := make(map[string]bool)
	collectTables(node, seen, &stmt.Tables)

	return stmt, nil
}

// describeInsert records whether the INSERT sources literal VALUES rows or a
// subquery, and how many literal rows it carries.
func describeInsert(ins *pg_query.InsertStmt, stmt *Statement) {
	if ins.SelectStmt == nil {
		return
	}
	sel, ok := ins.SelectStmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return
	}
	if len(sel.SelectStmt.ValuesLists) > 0 {
		stmt.LiteralRows = int64(len(sel.SelectStmt.ValuesLists))
		return
	}
	stmt.FromSubquery = true
}
