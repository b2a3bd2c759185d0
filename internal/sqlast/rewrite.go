package sqlast

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// countAlias is the column alias every rewritten query exposes, so the
// estimator can scan the result without caring about statement shape.
const countAlias = "estimated_rows"

// RewriteToCount implements Parser. The statement's own AST is never
// mutated; the raw text is re-parsed into a private tree before splicing.
func (p *PGParser) RewriteToCount(stmt *Statement) (*CountRewrite, error) {
	if stmt.Kind == KindInsert && stmt.LiteralRows > 0 {
		// Literal VALUES rows are counted directly, no database round trip.
		return &CountRewrite{Literal: true, LiteralCount: stmt.LiteralRows, Exact: true}, nil
	}

	result, err := pg_query.Parse(stmt.Raw)
	if err != nil {
		return nil, parseError(err)
	}
	if len(result.Stmts) != 1 {
		return nil, parseError(fmt.Errorf("expected exactly one statement, got %d", len(result.Stmts)))
	}

	switch n := result.Stmts[0].Stmt.Node.(type) {
	case *pg_query.Node_SelectStmt:
		query, err := wrapSelectCount(n.SelectStmt)
		if err != nil {
			return nil, err
		}
		return &CountRewrite{Query: query, Exact: true}, nil

	case *pg_query.Node_DeleteStmt:
		del := n.DeleteStmt
		if del.Relation == nil {
			return nil, ErrNoRewrite
		}
		query, err := predicateCount(del.Relation.Relname, del.WhereClause, del.UsingClause)
		if err != nil {
			return nil, err
		}
		return &CountRewrite{Query: query, Exact: true}, nil

	case *pg_query.Node_UpdateStmt:
		upd := n.UpdateStmt
		if upd.Relation == nil {
			return nil, ErrNoRewrite
		}
		query, err := predicateCount(upd.Relation.Relname, upd.WhereClause, upd.FromClause)
		if err != nil {
			return nil, err
		}
		return &CountRewrite{Query: query, Exact: true}, nil

	case *pg_query.Node_InsertStmt:
		ins := n.InsertStmt
		if ins.SelectStmt == nil {
			return nil, ErrNoRewrite
		}
		sel, ok := ins.SelectStmt.Node.(*pg_query.Node_SelectStmt)
		if !ok {
			return nil, ErrNoRewrite
		}
		query, err := wrapSelectCount(sel.SelectStmt)
		if err != nil {
			return nil, err
		}
		// The subquery's result set can drift under concurrent writes, so
		// the estimate is flagged approximate.
		return &CountRewrite{Query: query, Exact: false}, nil
	}

	return nil, ErrNoRewrite
}

// predicateCount builds SELECT count(*) over the mutation's own target table
// and predicate. extraFrom carries UPDATE ... FROM / DELETE ... USING
// entries so the predicate keeps its table references resolvable.
func predicateCount(table string, where *pg_query.Node, extraFrom []*pg_query.Node) (string, error) {
	tmpl := fmt.Sprintf("SELECT count(*) AS %s FROM %s", countAlias, QuoteIdentifier(table))
	result, err := pg_query.Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("building count template: %w", err)
	}

	sel := result.Stmts[0].Stmt.GetSelectStmt()
	sel.FromClause = append(sel.FromClause, extraFrom...)
	sel.WhereClause = where

	out, err := pg_query.Deparse(result)
	if err != nil {
		return "", fmt.Errorf("deparsing count query: %w", err)
	}
	return out, nil
}

// wrapSelectCount wraps an arbitrary SELECT as a counted subquery:
// SELECT count(*) FROM (<select>) AS t. ORDER BY on the inner query is
// dropped since it cannot change the count.
func wrapSelectCount(inner *pg_query.SelectStmt) (string, error) {
	inner.SortClause = nil

	tmpl := fmt.Sprintf("SELECT count(*) AS %s FROM (SELECT 1) AS t", countAlias)
	result, err := pg_query.Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("building count template: %w", err)
	}

	sel := result.Stmts[0].Stmt.GetSelectStmt()
	sub, ok := sel.FromClause[0].Node.(*pg_query.Node_RangeSubselect)
	if !ok {
		return "", fmt.Errorf("count template missing subselect")
	}
	sub.RangeSubselect.Subquery = &pg_query.Node{
		Node: &pg_query.Node_SelectStmt{SelectStmt: inner},
	}

	out, err := pg_query.Deparse(result)
	if err != nil {
		return "", fmt.Errorf("deparsing count query: %w", err)
	}
	return out, nil
}
