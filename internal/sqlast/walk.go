package sqlast

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// collectTables walks a parse tree node and records every referenced table
// in first-reference order. Compound names keep only the relation name; the
// gate's protection and locking vocabulary is table-level.
func collectTables(node *pg_query.Node, seen map[string]bool, tables *[]string) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		collectTablesFromSelect(n.SelectStmt, seen, tables)
	case *pg_query.Node_InsertStmt:
		if n.InsertStmt.Relation != nil {
			addTable(n.InsertStmt.Relation.Relname, seen, tables)
		}
		collectTables(n.InsertStmt.SelectStmt, seen, tables)
	case *pg_query.Node_UpdateStmt:
		if n.UpdateStmt.Relation != nil {
			addTable(n.UpdateStmt.Relation.Relname, seen, tables)
		}
		for _, from := range n.UpdateStmt.FromClause {
			collectTablesFromFrom(from, seen, tables)
		}
		collectTables(n.UpdateStmt.WhereClause, seen, tables)
	case *pg_query.Node_DeleteStmt:
		if n.DeleteStmt.Relation != nil {
			addTable(n.DeleteStmt.Relation.Relname, seen, tables)
		}
		for _, using := range n.DeleteStmt.UsingClause {
			collectTablesFromFrom(using, seen, tables)
		}
		collectTables(n.DeleteStmt.WhereClause, seen, tables)
	case *pg_query.Node_TruncateStmt:
		for _, rel := range n.TruncateStmt.Relations {
			if rv, ok := rel.Node.(*pg_query.Node_RangeVar); ok {
				addTable(rv.RangeVar.Relname, seen, tables)
			}
		}
	case *pg_query.Node_DropStmt:
		collectTablesFromDrop(n.DropStmt, seen, tables)
	case *pg_query.Node_AlterTableStmt:
		if n.AlterTableStmt.Relation != nil {
			addTable(n.AlterTableStmt.Relation.Relname, seen, tables)
		}
	case *pg_query.Node_CreateStmt:
		if n.CreateStmt.Relation != nil {
			addTable(n.CreateStmt.Relation.Relname, seen, tables)
		}
	case *pg_query.Node_RenameStmt:
		if n.RenameStmt.Relation != nil {
			addTable(n.RenameStmt.Relation.Relname, seen, tables)
		}
	case *pg_query.Node_IndexStmt:
		if n.IndexStmt.Relation != nil {
			addTable(n.IndexStmt.Relation.Relname, seen, tables)
		}
	case *pg_query.Node_SubLink:
		collectTables(n.SubLink.Subselect, seen, tables)
	case *pg_query.Node_BoolExpr:
		for _, arg := range n.BoolExpr.Args {
			collectTables(arg, seen, tables)
		}
	case *pg_query.Node_AExpr:
		collectTables(n.AExpr.Lexpr, seen, tables)
		collectTables(n.AExpr.Rexpr, seen, tables)
	case *pg_query.Node_ResTarget:
		collectTables(n.ResTarget.Val, seen, tables)
	}
}

// collectTablesFromSelect handles SELECT statements including set
// operations, CTEs, and subqueries in every clause that can hold one.
func collectTablesFromSelect(sel *pg_query.SelectStmt, seen map[string]bool, tables *[]string) {
	if sel == nil {
		return
	}

	if sel.Larg != nil {
		collectTablesFromSelect(sel.Larg, seen, tables)
	}
	if sel.Rarg != nil {
		collectTablesFromSelect(sel.Rarg, seen, tables)
	}

	for _, from := range sel.FromClause {
		collectTablesFromFrom(from, seen, tables)
	}
	collectTables(sel.WhereClause, seen, tables)
	collectTables(sel.HavingClause, seen, tables)
	for _, target := range sel.TargetList {
		collectTables(target, seen, tables)
	}

	if sel.WithClause != nil {
		for _, cte := range sel.WithClause.Ctes {
			if c, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok {
				collectTables(c.CommonTableExpr.Ctequery, seen, tables)
			}
		}
	}
}

// collectTablesFromFrom handles FROM/USING clause entries.
func collectTablesFromFrom(node *pg_query.Node, seen map[string]bool, tables *[]string) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		addTable(n.RangeVar.Relname, seen, tables)
	case *pg_query.Node_JoinExpr:
		collectTablesFromFrom(n.JoinExpr.Larg, seen, tables)
		collectTablesFromFrom(n.JoinExpr.Rarg, seen, tables)
	case *pg_query.Node_RangeSubselect:
		collectTables(n.RangeSubselect.Subquery, seen, tables)
	}
}

// collectTablesFromDrop extracts table names from DROP TABLE object lists.
// Each object is a possibly schema-qualified name; the last element is the
// relation name.
func collectTablesFromDrop(drop *pg_query.DropStmt, seen map[string]bool, tables *[]string) {
	if drop.RemoveType != pg_query.ObjectType_OBJECT_TABLE {
		return
	}
	for _, obj := range drop.Objects {
		list, ok := obj.Node.(*pg_query.Node_List)
		if !ok || len(list.List.Items) == 0 {
			continue
		}
		last := list.List.Items[len(list.List.Items)-1]
		if s, ok := last.Node.(*pg_query.Node_String_); ok {
			addTable(s.String_.Sval, seen, tables)
		}
	}
}

func addTable(name string, seen map[string]bool, tables *[]string) {
	if name == "" || seen[name] {
		return
	}
	seen[name] = true
	*tables = append(*tables, name)
}
