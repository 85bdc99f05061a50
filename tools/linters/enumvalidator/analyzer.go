// Package enumvalidator is a go/analysis pass flagging string-literal
// assignments to fields typed as one of this module's string enums
// (TaskStatus, InsightStatus, NotificationEventType, ...), where a defined
// constant should be used instead. Catches typos like task.Status =
// "compelted" that the compiler can't, since the underlying type is string.
package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name: "enumvalidator",
	Doc:  "checks that enum fields only use defined constants, not string literals",
	Run:  run,
}

// enumTypes lists the named string types this module treats as closed enums,
// per internal/model's TaskStatus/InsightStatus/NotificationEventType/etc.
var enumTypes = map[string]bool{
	"TaskType":              true,
	"TaskStatus":            true,
	"InsightType":           true,
	"InsightStatus":         true,
	"NotificationEventType": true,
	"NotificationStatus":    true,
	"ReflectionStatus":      true,
	"ToolType":              true,
}

func run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			assign, ok := n.(*ast.AssignStmt)
			if !ok {
				return true
			}

			for i, lhs := range assign.Lhs {
				if i >= len(assign.Rhs) {
					continue
				}

				if sel, ok := lhs.(*ast.SelectorExpr); ok {
					if isEnumField(pass, sel) {
						if isStringLiteral(assign.Rhs[i]) {
							pass.Reportf(assign.Pos(),
								"enum field %s assigned string literal; use defined constant instead",
								sel.Sel.Name)
						}
					}
				}
			}

			return true
		})
	}
	return nil, nil
}

func isEnumField(pass *analysis.Pass, sel *ast.SelectorExpr) bool {
	if t := pass.TypesInfo.TypeOf(sel); t != nil {
		if named, ok := t.(*types.Named); ok {
			return enumTypes[named.Obj().Name()]
		}
	}
	return false
}

func isStringLiteral(expr ast.Expr) bool {
	lit, ok := expr.(*ast.BasicLit)
	return ok && lit.Kind == token.STRING
}
