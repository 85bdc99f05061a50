// Package selfmod implements the Self-Modification Engine (SPEC_FULL §4.7):
// AST-level function replacement and whole-file rewrite, gated by the Critic
// Coordinator, with mandatory backup-before-write.
package selfmod

import (
	"context"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/jasonk87/selfevolve/internal/critic"
)

// Status mirrors the Task Manager terminal statuses this engine can drive a
// parent task through (SPEC_FULL §4.3/§4.7).
type Status string

const (
	StatusCompleted            Status = "COMPLETED_SUCCESSFULLY"
	StatusFailedPreReview      Status = "FAILED_PRE_REVIEW"
	StatusCriticRejected       Status = "CRITIC_REVIEW_REJECTED"
	StatusFailedDuringApply    Status = "FAILED_DURING_APPLY"
)

// Result is the outcome of an edit operation.
type Result struct {
	Status  Status
	Message string
	// NoOp is true when the proposed code was byte-identical to the original.
	NoOp bool
}

// TaskUpdater is the narrow collaborator notified of sub-step progress on the
// parent task, if one was supplied. taskmgr.Manager's own UpdateTaskStatus
// takes a richer signature (model.TaskStatus, UpdateTaskStatusInput); a
// caller wiring this in adapts that method to this narrower shape.
type TaskUpdater interface {
	UpdateTaskStatus(ctx context.Context, taskID int64, status string, reason, step string) error
}

// Engine performs AST-level source edits gated by a Critic Coordinator.
type Engine struct {
	critics *critic.Coordinator
}

// New constructs an Engine. critics performs the mandatory review gate before
// any write.
func New(critics *critic.Coordinator) *Engine {
	return &Engine{critics: critics}
}

// FunctionSourceFromFile locates the top-level function named functionName in
// the Go file at path and returns its formatted source.
func FunctionSourceFromFile(path, functionName string) (string, bool, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return "", false, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || fn.Name.Name != functionName {
			continue
		}
		var sb strings.Builder
		if err := format.Node(&sb, fset, fn); err != nil {
			return "", false, fmt.Errorf("formatting %s: %w", functionName, err)
		}
		return sb.String(), true, nil
	}
	return "", false, nil
}

func modulePathToFile(projectRootPath, modulePath string) string {
	rel := filepath.Join(strings.Split(modulePath, ".")...) + ".go"
	return filepath.Join(projectRootPath, rel)
}

// FunctionSourceForModule resolves modulePath's file under projectRootPath
// and returns functionName's formatted source. This is the Go realization of
// the original self_modification_service's get_function_source_code, and is
// the natural codeservice.FunctionLookup implementation once projectRootPath
// is bound at wiring time.
func FunctionSourceForModule(projectRootPath, modulePath, functionName string) (string, bool, error) {
	return FunctionSourceFromFile(modulePathToFile(projectRootPath, modulePath), functionName)
}

// EditFunctionSourceCode replaces the top-level function functionName inside
// modulePath's file with newCodeString, after mandatory critic review.
func (e *Engine) EditFunctionSourceCode(ctx context.Context, modulePath, functionName, newCodeString, projectRootPath, changeDescription string) Result {
	if !filepath.IsAbs(projectRootPath) {
		abs, err := filepath.Abs(projectRootPath)
		if err != nil {
			return Result{Status: StatusFailedPreReview, Message: fmt.Sprintf("resolving project root path: %v", err)}
		}
		projectRootPath = abs
	}

	filePath := modulePathToFile(projectRootPath, modulePath)

	originalSource, found, err := FunctionSourceFromFile(filePath, functionName)
	if err != nil {
		return Result{Status: StatusFailedPreReview, Message: fmt.Sprintf("reading original source: %v", err)}
	}
	if !found {
		return Result{Status: StatusFailedPreReview, Message: fmt.Sprintf("function %q not found in %s", functionName, modulePath)}
	}

	if strings.TrimSpace(originalSource) == strings.TrimSpace(newCodeString) {
		return Result{Status: StatusCompleted, Message: fmt.Sprintf("no changes detected for function %q in %s", functionName, modulePath), NoOp: true}
	}

	diff := unifiedDiff(originalSource, newCodeString, fmt.Sprintf("%s/%s", modulePath, functionName))

	outcome, err := e.critics.Review(ctx, critic.Request{
		CodeToReview:         newCodeString,
		CodeDiff:             diff,
		OriginalRequirements: changeDescription,
	})
	if err != nil {
		return Result{Status: StatusFailedPreReview, Message: fmt.Sprintf("critical review process error: %v", err)}
	}
	if !outcome.Approved {
		return Result{Status: StatusCriticRejected, Message: summarizeRejection(outcome)}
	}

	newFuncDecl, err := parseSingleFuncDecl(newCodeString)
	if err != nil {
		return Result{Status: StatusFailedPreReview, Message: err.Error()}
	}

	if err := backupFile(filePath); err != nil {
		return Result{Status: StatusFailedDuringApply, Message: fmt.Sprintf("backing up %s: %v", filePath, err)}
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, nil, parser.ParseComments)
	if err != nil {
		return Result{Status: StatusFailedDuringApply, Message: fmt.Sprintf("re-parsing %s: %v", filePath, err)}
	}

	replaced := false
	for i, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || fn.Name.Name != functionName {
			continue
		}
		file.Decls[i] = newFuncDecl
		replaced = true
		break
	}
	if !replaced {
		return Result{Status: StatusFailedDuringApply, Message: fmt.Sprintf("function %q disappeared from %s between review and apply", functionName, filePath)}
	}

	if err := writeFormattedFile(filePath, fset, file); err != nil {
		return Result{Status: StatusFailedDuringApply, Message: fmt.Sprintf("writing %s: %v", filePath, err)}
	}

	slog.InfoContext(ctx, "self-modification applied", "module_path", modulePath, "function", functionName, "renamed_to", newFuncDecl.Name.Name)
	return Result{Status: StatusCompleted, Message: fmt.Sprintf("function %q in %s updated successfully (replaced with %q)", functionName, modulePath, newFuncDecl.Name.Name)}
}

// EditProjectFile edits or creates an arbitrary file after critic review.
// Skips the write entirely if newContent is byte-identical to the existing
// content.
func (e *Engine) EditProjectFile(ctx context.Context, absolutePath, newContent, changeDescription string) Result {
	info, statErr := os.Stat(absolutePath)
	fileExists := statErr == nil
	if fileExists && info.IsDir() {
		return Result{Status: StatusFailedPreReview, Message: fmt.Sprintf("path %q is not a file", absolutePath)}
	}

	var originalContent string
	if fileExists {
		data, err := os.ReadFile(absolutePath)
		if err != nil {
			return Result{Status: StatusFailedPreReview, Message: fmt.Sprintf("reading %s: %v", absolutePath, err)}
		}
		originalContent = string(data)
	}

	if fileExists && originalContent == newContent {
		return Result{Status: StatusCompleted, Message: fmt.Sprintf("content for %q is identical to current; no change made", absolutePath), NoOp: true}
	}

	diff := unifiedDiff(originalContent, newContent, filepath.Base(absolutePath))

	outcome, err := e.critics.Review(ctx, critic.Request{
		CodeToReview:         newContent,
		CodeDiff:             diff,
		OriginalRequirements: changeDescription,
	})
	if err != nil {
		return Result{Status: StatusFailedPreReview, Message: fmt.Sprintf("critical review process error: %v", err)}
	}
	if !outcome.Approved {
		return Result{Status: StatusCriticRejected, Message: summarizeRejection(outcome)}
	}

	if dir := filepath.Dir(absolutePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{Status: StatusFailedDuringApply, Message: fmt.Sprintf("creating parent directory for %s: %v", absolutePath, err)}
		}
	}

	if fileExists {
		if err := backupFile(absolutePath); err != nil {
			return Result{Status: StatusFailedDuringApply, Message: fmt.Sprintf("backing up %s: %v", absolutePath, err)}
		}
	}

	if err := os.WriteFile(absolutePath, []byte(newContent), 0o644); err != nil {
		return Result{Status: StatusFailedDuringApply, Message: fmt.Sprintf("writing %s: %v", absolutePath, err)}
	}

	return Result{Status: StatusCompleted, Message: fmt.Sprintf("project file %q updated successfully after review", absolutePath)}
}

// GetBackupFunctionSourceCode parses modulePath's .bak sibling and returns the
// formatted source of functionName, if present.
func GetBackupFunctionSourceCode(modulePath, functionName, projectRootPath string) (string, bool) {
	filePath := modulePathToFile(projectRootPath, modulePath) + ".bak"
	if _, err := os.Stat(filePath); err != nil {
		return "", false
	}
	src, found, err := FunctionSourceFromFile(filePath, functionName)
	if err != nil || !found {
		return "", false
	}
	return src, true
}

// RevertModuleFromBackup overwrites modulePath's live file with its .bak
// sibling, undoing the most recent EditFunctionSourceCode/EditProjectFile
// write. Used by the Action Executor when a post-modification test fails.
func RevertModuleFromBackup(projectRootPath, modulePath string) error {
	filePath := modulePathToFile(projectRootPath, modulePath)
	backupPath := filePath + ".bak"
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("reading backup %s: %w", backupPath, err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("restoring %s from backup: %w", filePath, err)
	}
	return nil
}

func parseSingleFuncDecl(code string) (*ast.FuncDecl, error) {
	wrapped := "package p\n" + code
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", wrapped, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("syntax error in new code: %w", err)
	}
	if len(file.Decls) == 0 {
		return nil, fmt.Errorf("new code is empty or contains no parsable declarations")
	}
	fn, ok := file.Decls[0].(*ast.FuncDecl)
	if !ok {
		return nil, fmt.Errorf("new code does not define a single function declaration")
	}
	return fn, nil
}

func backupFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".bak")
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func writeFormattedFile(path string, fset *token.FileSet, file *ast.File) error {
	var sb strings.Builder
	if err := format.Node(&sb, fset, file); err != nil {
		return fmt.Errorf("formatting modified AST: %w", err)
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func summarizeRejection(outcome critic.Outcome) string {
	var parts []string
	for i, r := range outcome.Reviews {
		parts = append(parts, fmt.Sprintf("critic %d (%s): %s", i+1, r.Status, nonEmptyComment(r.Comments)))
	}
	return "change rejected by critical review, no modifications applied. Reviews: " + strings.Join(parts, " | ")
}

func nonEmptyComment(s string) string {
	if strings.TrimSpace(s) == "" {
		return "no comments"
	}
	return s
}

// unifiedDiff renders a unified diff between before and after, labeled name.
// Empty when before == after.
func unifiedDiff(before, after, name string) string {
	if before == after {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath(name), before, after)
	return fmt.Sprint(gotextdiff.ToUnified(name, name, before, edits))
}
