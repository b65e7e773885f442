package validator

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// catalogSchema is always searched first, so functions from it stay usable
// when written qualified.
const catalogSchema = "pg_catalog"

// checkTree parses sql and rejects anything that is not a single read-only
// SELECT confined to the current search path. A parse failure is not a
// rejection.
func checkTree(sql string) *Rejection {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil
	}
	if len(tree.Stmts) != 1 {
		return reject(ReasonMultipleStatements,
			"Multiple SQL statements are not allowed",
			"Only single SELECT or WITH statements are permitted")
	}
	sel, ok := tree.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return reject(ReasonForbiddenKeyword,
			"Only SELECT statements are allowed",
			"This operation could modify data or database structure")
	}
	return walk(sel.SelectStmt.ProtoReflect())
}

// walk visits every message reachable from m, so no clause or expression
// form can hide a relation from checkMessage.
func walk(m protoreflect.Message) *Rejection {
	if !m.IsValid() {
		return nil
	}
	if r := checkMessage(m.Interface()); r != nil {
		return r
	}
	var rej *Rejection
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind && fd.Kind() != protoreflect.GroupKind {
			return true
		}
		switch {
		case fd.IsMap():
			if fd.MapValue().Message() == nil {
				return true
			}
			v.Map().Range(func(_ protoreflect.MapKey, mv protoreflect.Value) bool {
				rej = walk(mv.Message())
				return rej == nil
			})
		case fd.IsList():
			list := v.List()
			for i := 0; i < list.Len() && rej == nil; i++ {
				rej = walk(list.Get(i).Message())
			}
		default:
			rej = walk(v.Message())
		}
		return rej == nil
	})
	return rej
}

func checkMessage(msg protoreflect.ProtoMessage) *Rejection {
	switch n := msg.(type) {
	case *pg_query.SelectStmt:
		if n.IntoClause != nil {
			return reject(ReasonForbiddenKeyword,
				"SELECT INTO is not allowed",
				"This operation could modify data or database structure")
		}
		if len(n.LockingClause) > 0 {
			return reject(ReasonForbiddenKeyword,
				"Row locking clauses are not allowed",
				"Only plain read queries are permitted")
		}
	case *pg_query.InsertStmt, *pg_query.UpdateStmt, *pg_query.DeleteStmt, *pg_query.MergeStmt:
		return reject(ReasonForbiddenKeyword,
			"Only SELECT statements are allowed inside WITH",
			"This operation could modify data or database structure")
	case *pg_query.RangeVar:
		return checkRelation(n)
	case *pg_query.FuncCall:
		return checkFunction(n)
	}
	return nil
}

func checkRelation(rv *pg_query.RangeVar) *Rejection {
	if rv.Schemaname == "" && rv.Catalogname == "" {
		// system catalogs resolve through the implicit pg_catalog entry
		if strings.HasPrefix(strings.ToLower(rv.Relname), "pg_") {
			return reject(ReasonCrossNamespace,
				fmt.Sprintf("Relation '%s' is a system catalog", rv.Relname),
				"Only the problem's tables can be queried")
		}
		return nil
	}
	qualified := rv.Schemaname + "." + rv.Relname
	if rv.Catalogname != "" {
		qualified = rv.Catalogname + "." + qualified
	}
	return reject(ReasonCrossNamespace,
		fmt.Sprintf("Relation '%s' is outside the sandbox", qualified),
		"Reference tables by their unqualified name")
}

func checkFunction(fc *pg_query.FuncCall) *Rejection {
	if len(fc.Funcname) < 2 {
		return nil
	}
	parts := make([]string, 0, len(fc.Funcname))
	for _, n := range fc.Funcname {
		if s, ok := n.Node.(*pg_query.Node_String_); ok {
			parts = append(parts, s.String_.Sval)
		}
	}
	if len(parts) == 2 && strings.EqualFold(parts[0], catalogSchema) {
		return nil
	}
	return reject(ReasonCrossNamespace,
		fmt.Sprintf("Function '%s' is outside the sandbox", strings.Join(parts, ".")),
		"Call functions by their unqualified name")
}
