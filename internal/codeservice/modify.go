package codeservice

import (
	"context"
	"fmt"
	"strings"
)

const noCodeSuggestionMarker = "// NO_CODE_SUGGESTION_POSSIBLE"
const refactoringImpossibleMarker = "// REFACTORING_SUGGESTION_IMPOSSIBLE"

const selfFixSystemPrompt = `You fix a single Go function given its current source and a description of
the bug. Respond via the structured output function with field "output" set
to the complete corrected function. If no correction is possible, set
"output" to the literal marker ` + "`" + noCodeSuggestionMarker + "`" + ` and nothing else.`

func (s *Service) modifySelfFixTool(ctx context.Context, req ModifyRequest) ModifyResult {
	if req.ModulePath == "" || req.FunctionName == "" {
		return modifyErrResult(StatusErrorMissingDetails, "SELF_FIX_TOOL requires module_path and function_name")
	}

	existingCode := req.ExistingCode
	if strings.TrimSpace(existingCode) == "" {
		if s.lookup == nil {
			return modifyErrResult(StatusErrorSelfModServiceMissing, "Self modification service not configured")
		}
		src, ok, err := s.lookup(req.ModulePath, req.FunctionName)
		if err != nil || !ok {
			return modifyErrResult(StatusErrorNoOriginalCode, fmt.Sprintf("could not fetch original source for %s.%s", req.ModulePath, req.FunctionName))
		}
		existingCode = src
	}

	userPrompt := fmt.Sprintf("Module: %s\nFunction: %s\nBug description: %s\nCurrent source:\n%s",
		req.ModulePath, req.FunctionName, req.ModificationInstruction, existingCode)
	raw, err := s.callLLMRaw(ctx, selfFixSystemPrompt, userPrompt, 1200)
	if err != nil {
		return modifyErrResult(StatusErrorLLMProviderMissing, err.Error())
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == noCodeSuggestionMarker {
		return modifyErrResult(StatusErrorLLMNoSuggestion, "LLM found no code suggestion possible")
	}

	return ModifyResult{Status: StatusSuccessCodeModified, ModifiedCodeString: &raw}
}

const granularRefactorSystemPrompt = `You refactor a single identified section of Go source per an instruction,
leaving the rest of the function family untouched. Respond via the
structured output function with field "output" set to the refactored
section's complete replacement source. If refactoring is not possible, set
"output" to the literal marker ` + "`" + refactoringImpossibleMarker + "`" + ` and nothing else.`

func (s *Service) modifyGranularRefactor(ctx context.Context, req ModifyRequest) ModifyResult {
	sectionID := req.AdditionalContext["section_identifier"]
	if sectionID == "" {
		return modifyErrResult(StatusErrorMissingDetails, "GRANULAR_CODE_REFACTOR requires additional_context.section_identifier")
	}
	if strings.TrimSpace(req.ExistingCode) == "" {
		return modifyErrResult(StatusErrorNoOriginalCode, "GRANULAR_CODE_REFACTOR requires existing_code")
	}

	userPrompt := fmt.Sprintf("Section to refactor: %s\nInstruction: %s\nCurrent source:\n%s",
		sectionID, req.ModificationInstruction, req.ExistingCode)
	raw, err := s.callLLMRaw(ctx, granularRefactorSystemPrompt, userPrompt, 1200)
	if err != nil {
		return modifyErrResult(StatusErrorLLMProviderMissing, err.Error())
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == refactoringImpossibleMarker {
		return modifyErrResult(StatusErrorLLMNoSuggestion, "LLM found refactoring not possible")
	}

	return ModifyResult{Status: StatusSuccessCodeModified, ModifiedCodeString: &raw}
}
