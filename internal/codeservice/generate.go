package codeservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jasonk87/selfevolve/common"
)

const newToolSystemPrompt = `You write a single new Go tool function for an autonomous agent's tool
registry. Respond by calling the structured output function with a field
"output" whose value is the literal text:

# METADATA: {"suggested_function_name": "...", "suggested_tool_name": "...", "suggested_description": "..."}
<the complete Go function, including package-level imports if needed>

The metadata line must be valid JSON on a single line starting with "# METADATA: ".`

func (s *Service) generateNewTool(ctx context.Context, req GenerateRequest) GenerateResult {
	userPrompt := fmt.Sprintf("Tool requirement: %s\n%s", req.PromptOrDescription, formatAdditionalContext(req.AdditionalContext))
	raw, err := s.callLLMRaw(ctx, newToolSystemPrompt, userPrompt, 2000)
	if err != nil {
		return errResult(StatusErrorLLMProviderMissing, err.Error())
	}
	if strings.TrimSpace(raw) == "" {
		return errResult(StatusErrorLLMNoCode, "LLM returned no code for NEW_TOOL")
	}

	const metadataPrefix = "# METADATA:"
	lines := strings.SplitN(raw, "\n", 2)
	firstLine := strings.TrimSpace(lines[0])
	if !strings.HasPrefix(firstLine, metadataPrefix) {
		return errResult(StatusErrorMetadataParsing, "NEW_TOOL response missing leading # METADATA: line")
	}

	var meta NewToolMetadata
	metaJSON := strings.TrimSpace(strings.TrimPrefix(firstLine, metadataPrefix))
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return errResult(StatusErrorMetadataParsing, fmt.Sprintf("parsing NEW_TOOL metadata: %v", err))
	}
	if meta.SuggestedFunctionName == "" || meta.SuggestedToolName == "" || meta.SuggestedDescription == "" {
		return errResult(StatusErrorMetadataParsing, "NEW_TOOL metadata missing required fields")
	}

	// The LLM's suggested tool name becomes the registry key and, via the
	// self-mod engine, a module path component on disk; normalize it so an
	// unruly suggestion ("Read File!!") can't reach either as-is.
	slug, err := common.Slugify(meta.SuggestedToolName, meta.SuggestedFunctionName)
	if err != nil {
		return errResult(StatusErrorMetadataParsing, "NEW_TOOL metadata has no usable tool name: "+err.Error())
	}
	meta.SuggestedToolName = slug

	code := ""
	if len(lines) > 1 {
		code = strings.TrimSpace(lines[1])
	}
	if code == "" {
		return errResult(StatusErrorCodeEmptyPostMetadata, "NEW_TOOL code body empty after metadata line")
	}

	s.logLintIssues(ctx, code)

	result := GenerateResult{Status: StatusSuccessCodeGenerated, CodeString: &code, Metadata: &meta}
	if req.TargetPath != "" {
		if err := writeGeneratedFile(req.TargetPath, code); err != nil {
			result.Status = StatusErrorSavingCode
			result.Error = strPtr(fmt.Sprintf("failed to save generated code: %v", err))
			return result
		}
		result.SavedToPath = strPtr(req.TargetPath)
	}
	return result
}

const scaffoldSystemPrompt = `You write a Go "testing"-package-style unit test scaffold: a TestXxx(t
*testing.T) stub with one t.Run subtest per test case you can infer from the
snippet, each calling t.Fatal("not yet implemented"). Respond via the
structured output function with field "output" set to the scaffold source.`

func (s *Service) generateUnitTestScaffold(ctx context.Context, req GenerateRequest) GenerateResult {
	hint := req.AdditionalContext["module_name_hint"]
	if hint == "" {
		hint = "generated"
	}
	userPrompt := fmt.Sprintf("module_name_hint='%s'\nCode to test:\n%s", hint, req.PromptOrDescription)
	raw, err := s.callLLMRaw(ctx, scaffoldSystemPrompt, userPrompt, 1200)
	if err != nil {
		return errResult(StatusErrorLLMProviderMissing, err.Error())
	}
	if strings.TrimSpace(raw) == "" {
		return errResult(StatusErrorLLMNoCode, "LLM returned no scaffold code")
	}

	result := GenerateResult{Status: StatusSuccessCodeGenerated, CodeString: &raw}
	if req.TargetPath != "" {
		if err := writeGeneratedFile(req.TargetPath, raw); err != nil {
			result.Status = StatusErrorSavingCode
			result.Error = strPtr(fmt.Sprintf("failed to save generated code: %v", err))
			return result
		}
		result.SavedToPath = strPtr(req.TargetPath)
	}
	return result
}

const outlineSystemPrompt = `You design the outline of a Go source file: its package name, a short
description, the imports it needs, and an ordered list of components
(functions, or structs with methods). Respond via the structured output
function with field "output" set to a single JSON object with keys
module_name, description, imports, components, main_execution_block
(optional), module_docstring (optional). Each component has: type
("function", "struct", or "method"), name, description, signature,
body_placeholder, and (for struct) fields/methods.`

func (s *Service) generateHierarchicalOutline(ctx context.Context, req GenerateRequest) GenerateResult {
	raw, err := s.callLLMRaw(ctx, outlineSystemPrompt, req.PromptOrDescription, 1500)
	if err != nil {
		return errResult(StatusErrorLLMProviderMissing, err.Error())
	}
	if strings.TrimSpace(raw) == "" {
		return errResult(StatusErrorLLMNoOutline, "LLM returned no outline")
	}

	var outline Outline
	if err := json.Unmarshal([]byte(raw), &outline); err != nil {
		return errResult(StatusErrorOutlineParsing, fmt.Sprintf("parsing outline JSON: %v", err))
	}

	return GenerateResult{Status: StatusSuccessOutlineGenerated, ParsedOutline: &outline, OutlineStr: &raw}
}

func (s *Service) generateHierarchicalFullTool(ctx context.Context, req GenerateRequest) GenerateResult {
	outlineResult := s.GenerateCode(ctx, GenerateRequest{
		Context:             ContextHierarchicalOutline,
		PromptOrDescription: req.PromptOrDescription,
		AdditionalContext:   req.AdditionalContext,
	})
	if outlineResult.Status != StatusSuccessOutlineGenerated {
		return outlineResult
	}
	outline := *outlineResult.ParsedOutline

	details := make(map[string]*string)
	var anyFailed, anySucceeded bool

	for _, c := range outline.Components {
		switch c.Type {
		case "function":
			d, ok := s.generateDetailForComponent(ctx, c, outline)
			if ok {
				details[c.Name] = &d
				anySucceeded = true
			} else {
				details[c.Name] = nil
				anyFailed = true
			}
		case "struct":
			for _, m := range c.Methods {
				key := c.Name + "." + m.Name
				d, ok := s.generateDetailForComponent(ctx, m, outline)
				if ok {
					details[key] = &d
					anySucceeded = true
				} else {
					details[key] = nil
					anyFailed = true
				}
			}
		}
	}

	result := GenerateResult{ParsedOutline: &outline, ComponentDetails: details}
	switch {
	case anyFailed && anySucceeded:
		result.Status = StatusPartialHierarchicalDetailsGenerated
		result.Error = strPtr("one or more component details failed to generate")
	case anyFailed && !anySucceeded:
		result.Status = StatusPartialHierarchicalDetailsGenerated
		result.Error = strPtr("all component details failed to generate")
	default:
		result.Status = StatusSuccessHierarchicalDetailsGenerated
	}
	return result
}

func (s *Service) generateHierarchicalComplete(ctx context.Context, req GenerateRequest) GenerateResult {
	fullResult := s.GenerateCode(ctx, GenerateRequest{
		Context:             ContextHierarchicalFullTool,
		PromptOrDescription: req.PromptOrDescription,
		AdditionalContext:   req.AdditionalContext,
	})
	if fullResult.Status != StatusSuccessHierarchicalDetailsGenerated && fullResult.Status != StatusPartialHierarchicalDetailsGenerated {
		return fullResult
	}

	assembled, err := assembleComponents(*fullResult.ParsedOutline, fullResult.ComponentDetails)
	if err != nil {
		return GenerateResult{Status: StatusErrorAssemblyFailed, Error: strPtr(err.Error())}
	}

	s.logLintIssues(ctx, assembled)

	result := GenerateResult{
		Status:           StatusSuccessHierarchicalAssembled,
		CodeString:       &assembled,
		ParsedOutline:    fullResult.ParsedOutline,
		ComponentDetails: fullResult.ComponentDetails,
	}
	if req.TargetPath != "" {
		if err := writeGeneratedFile(req.TargetPath, assembled); err != nil {
			result.Status = StatusErrorSavingAssembledCode
			result.Error = strPtr(fmt.Sprintf("failed to save assembled code: %v", err))
			result.SavedToPath = nil
			return result
		}
		result.SavedToPath = strPtr(req.TargetPath)
	}
	return result
}

// generateDetailForComponent asks the LLM for the full body of a single
// function or method component. Returns ("", false) on empty response, an
// `// IMPLEMENTATION_ERROR` marker, or suspiciously short output.
func (s *Service) generateDetailForComponent(ctx context.Context, component Component, outline Outline) (string, bool) {
	system := `You implement a single Go function or method given its planned signature,
description, and body placeholder, plus the outline of the file it belongs
to. Respond via the structured output function with field "output" set to
the complete function/method source.`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Component: %s %q\nSignature: %s\nDescription: %s\nPlanned body: %s\n",
		component.Type, component.Name, component.Signature, component.Description, component.BodyPlaceholder)
	if len(outline.Imports) > 0 {
		fmt.Fprintf(&sb, "Available imports: %s\n", strings.Join(outline.Imports, ", "))
	}
	for _, c := range outline.Components {
		if c.Type == "struct" {
			for _, m := range c.Methods {
				if m.Name == component.Name {
					fmt.Fprintf(&sb, "Receiver struct: %q\n", c.Name)
				}
			}
		}
	}

	raw, err := s.callLLMRaw(ctx, system, sb.String(), 800)
	if err != nil {
		slog.WarnContext(ctx, "component detail generation failed", "component", component.Name, "error", err)
		return "", false
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || isImplementationErrorMarker(trimmed) || len(trimmed) < 10 {
		return "", false
	}
	return raw, true
}

func (s *Service) logLintIssues(ctx context.Context, code string) {
	issues := s.linter.Lint(ctx, code)
	if len(issues) > 0 {
		slog.InfoContext(ctx, "code service lint issues", "count", len(issues), "issues", issues)
	}
}

func formatAdditionalContext(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Additional context:\n")
	for k, v := range m {
		fmt.Fprintf(&sb, "%s=%q\n", k, v)
	}
	return sb.String()
}

func writeGeneratedFile(targetPath, content string) error {
	if dir := filepath.Dir(targetPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(targetPath, []byte(content), 0o644)
}
