package codeservice

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func marshalOutline(t *testing.T, o Outline) string {
	t.Helper()
	b, err := json.Marshal(o)
	require.NoError(t, err)
	return string(b)
}

func TestGenerateCode_HierarchicalOutline_Success(t *testing.T) {
	outline := Outline{ModuleName: "tool", Components: []Component{{Type: "function", Name: "main"}}}
	s := newService(marshalOutline(t, outline))
	result := s.GenerateCode(context.Background(), GenerateRequest{Context: ContextHierarchicalOutline, PromptOrDescription: "a simple tool"})
	require.Equal(t, StatusSuccessOutlineGenerated, result.Status)
	require.Equal(t, "tool", result.ParsedOutline.ModuleName)
	require.NotNil(t, result.OutlineStr)
}

func TestGenerateCode_HierarchicalOutline_LLMEmpty(t *testing.T) {
	s := newService("")
	result := s.GenerateCode(context.Background(), GenerateRequest{Context: ContextHierarchicalOutline, PromptOrDescription: "x"})
	require.Equal(t, StatusErrorLLMNoOutline, result.Status)
}

func TestGenerateCode_HierarchicalOutline_BadJSON(t *testing.T) {
	s := newService("{not valid json")
	result := s.GenerateCode(context.Background(), GenerateRequest{Context: ContextHierarchicalOutline, PromptOrDescription: "x"})
	require.Equal(t, StatusErrorOutlineParsing, result.Status)
}

func TestGenerateCode_HierarchicalFullTool_Success(t *testing.T) {
	outline := Outline{
		ModuleName: "tool",
		Components: []Component{
			{Type: "function", Name: "funcOne", Signature: "()"},
			{Type: "struct", Name: "MyStruct", Methods: []Component{{Type: "method", Name: "MethodA", Signature: "()"}}},
		},
	}
	s := newService(
		marshalOutline(t, outline),
		"func funcOne() {\n\t// implemented\n}",
		"func (m *MyStruct) MethodA() {\n\t// implemented\n}",
	)
	result := s.GenerateCode(context.Background(), GenerateRequest{Context: ContextHierarchicalFullTool, PromptOrDescription: "a complex tool"})
	require.Equal(t, StatusSuccessHierarchicalDetailsGenerated, result.Status)
	require.Nil(t, result.CodeString)
	require.Contains(t, *result.ComponentDetails["funcOne"], "implemented")
	require.Contains(t, *result.ComponentDetails["MyStruct.MethodA"], "implemented")
}

func TestGenerateCode_HierarchicalFullTool_OutlineFails(t *testing.T) {
	s := newService("not json")
	result := s.GenerateCode(context.Background(), GenerateRequest{Context: ContextHierarchicalFullTool, PromptOrDescription: "a complex tool"})
	require.Equal(t, StatusErrorOutlineParsing, result.Status)
	require.Nil(t, result.ComponentDetails)
}

func TestGenerateCode_HierarchicalFullTool_PartialDetailFailure(t *testing.T) {
	outline := Outline{
		ModuleName: "tool",
		Components: []Component{
			{Type: "function", Name: "funcOne", Signature: "()"},
			{Type: "function", Name: "funcTwo", Signature: "()"},
		},
	}
	s := newService(
		marshalOutline(t, outline),
		"func funcOne() {\n\t// implemented\n}",
		"", // funcTwo detail generation fails
	)
	result := s.GenerateCode(context.Background(), GenerateRequest{Context: ContextHierarchicalFullTool, PromptOrDescription: "two funcs"})
	require.Equal(t, StatusPartialHierarchicalDetailsGenerated, result.Status)
	require.NotNil(t, result.Error)
	require.NotNil(t, result.ComponentDetails["funcOne"])
	require.Nil(t, result.ComponentDetails["funcTwo"])
}

func TestGenerateCode_HierarchicalComplete_SuccessNoSave(t *testing.T) {
	outline := Outline{
		ModuleName: "tool",
		Imports:    []string{"fmt"},
		Components: []Component{{Type: "function", Name: "funcOne", Signature: "()"}},
	}
	s := newService(
		marshalOutline(t, outline),
		"func funcOne() {\n\tfmt.Println(\"done\")\n}",
	)
	result := s.GenerateCode(context.Background(), GenerateRequest{Context: ContextHierarchicalGenComplete, PromptOrDescription: "assemble it"})
	require.Equal(t, StatusSuccessHierarchicalAssembled, result.Status)
	require.Contains(t, *result.CodeString, "package tool")
	require.Contains(t, *result.CodeString, "funcOne")
	require.Nil(t, result.SavedToPath)
}

func TestGenerateCode_HierarchicalComplete_SuccessAndSave(t *testing.T) {
	outline := Outline{
		ModuleName: "tool",
		Components: []Component{{Type: "function", Name: "funcOne", Signature: "()"}},
	}
	s := newService(
		marshalOutline(t, outline),
		"func funcOne() {}",
	)
	path := t.TempDir() + "/assembled.go"
	result := s.GenerateCode(context.Background(), GenerateRequest{Context: ContextHierarchicalGenComplete, PromptOrDescription: "assemble it", TargetPath: path})
	require.Equal(t, StatusSuccessHierarchicalAssembled, result.Status)
	require.Equal(t, path, *result.SavedToPath)
}

func TestGenerateCode_HierarchicalComplete_OrchestrationFails(t *testing.T) {
	s := newService("not json")
	result := s.GenerateCode(context.Background(), GenerateRequest{Context: ContextHierarchicalGenComplete, PromptOrDescription: "x"})
	require.Equal(t, StatusErrorOutlineParsing, result.Status)
	require.Nil(t, result.CodeString)
}
