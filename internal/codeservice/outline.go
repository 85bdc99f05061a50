package codeservice

import (
	"fmt"
	"go/format"
	"regexp"
	"strings"
)

// Outline is the hierarchical plan for a generated Go file
// (EXPERIMENTAL_HIERARCHICAL_OUTLINE's parsed result).
type Outline struct {
	ModuleName         string      `json:"module_name"`
	Description        string      `json:"description,omitempty"`
	Imports            []string    `json:"imports,omitempty"`
	Components         []Component `json:"components,omitempty"`
	MainExecutionBlock string      `json:"main_execution_block,omitempty"`
	ModuleDocstring    string      `json:"module_docstring,omitempty"`
}

// Component is one planned function, struct, or struct method.
type Component struct {
	Type            string      `json:"type"` // "function", "struct", or "method"
	Name            string      `json:"name"`
	Signature       string      `json:"signature,omitempty"`
	Description     string      `json:"description,omitempty"`
	BodyPlaceholder string      `json:"body_placeholder,omitempty"`
	Fields          []Field     `json:"fields,omitempty"`
	Methods         []Component `json:"methods,omitempty"`
}

// Field is one struct field in a planned "struct" component.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

var excessBlankLines = regexp.MustCompile(`\n{3,}`)

func packageNameOf(outline Outline) string {
	name := strings.TrimSuffix(strings.TrimSpace(outline.ModuleName), ".go")
	if name == "" {
		return "generated"
	}
	return name
}

// assembleComponents renders outline + per-component detail strings into a
// single Go source file per SPEC_FULL §4.6's assembly rules: package doc
// comment, import block (one import per line), components in outline order,
// commented placeholders for missing details, empty struct{} for
// attribute/method-less structs, go/format-equivalent indentation, and
// collapsing runs of >=3 newlines to 2.
func assembleComponents(outline Outline, details map[string]*string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("assembling components: %v", r)
		}
	}()

	var sb strings.Builder
	if outline.ModuleDocstring != "" {
		fmt.Fprintf(&sb, "// %s\n", outline.ModuleDocstring)
	}
	fmt.Fprintf(&sb, "package %s\n\n", packageNameOf(outline))

	if len(outline.Imports) > 0 {
		sb.WriteString("import (\n")
		for _, imp := range outline.Imports {
			fmt.Fprintf(&sb, "\t%q\n", imp)
		}
		sb.WriteString(")\n\n")
	}

	for _, c := range outline.Components {
		switch c.Type {
		case "function":
			sb.WriteString(assembleFunction(c, details))
			sb.WriteString("\n\n")
		case "struct":
			sb.WriteString(assembleStruct(c, details))
			sb.WriteString("\n\n")
		}
	}

	if outline.MainExecutionBlock != "" {
		sb.WriteString(outline.MainExecutionBlock)
		sb.WriteString("\n")
	}

	rendered := excessBlankLines.ReplaceAllString(sb.String(), "\n\n")

	if formatted, ferr := format.Source([]byte(rendered)); ferr == nil {
		return string(formatted), nil
	}
	return rendered, nil
}

func assembleFunction(c Component, details map[string]*string) string {
	if d, ok := details[c.Name]; ok && d != nil && strings.TrimSpace(*d) != "" {
		return *d
	}
	return placeholderComponent(c)
}

func assembleStruct(c Component, details map[string]*string) string {
	var sb strings.Builder
	if c.Description != "" {
		fmt.Fprintf(&sb, "// %s %s\n", c.Name, c.Description)
	}
	if len(c.Fields) == 0 {
		fmt.Fprintf(&sb, "type %s struct{}\n\n", c.Name)
	} else {
		fmt.Fprintf(&sb, "type %s struct {\n", c.Name)
		for _, f := range c.Fields {
			if f.Description != "" {
				fmt.Fprintf(&sb, "\t// %s\n", f.Description)
			}
			fmt.Fprintf(&sb, "\t%s %s\n", f.Name, f.Type)
		}
		sb.WriteString("}\n\n")
	}

	for _, m := range c.Methods {
		key := c.Name + "." + m.Name
		if d, ok := details[key]; ok && d != nil && strings.TrimSpace(*d) != "" {
			sb.WriteString(*d)
		} else {
			sb.WriteString(placeholderMethod(c.Name, m))
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func placeholderComponent(c Component) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "// Function %q was planned but not generated.\n", c.Name)
	if c.BodyPlaceholder != "" {
		fmt.Fprintf(&sb, "// Original placeholder: %s\n", c.BodyPlaceholder)
	}
	fmt.Fprintf(&sb, "func %s%s {\n\tpanic(\"not implemented: %s\")\n}", c.Name, c.Signature, c.Name)
	return sb.String()
}

func placeholderMethod(receiver string, m Component) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "// Method %q on %q was planned but not generated.\n", m.Name, receiver)
	if m.BodyPlaceholder != "" {
		fmt.Fprintf(&sb, "// Original placeholder: %s\n", m.BodyPlaceholder)
	}
	recvVar := strings.ToLower(receiver[:1])
	fmt.Fprintf(&sb, "func (%s *%s) %s%s {\n\tpanic(\"not implemented: %s.%s\")\n}", recvVar, receiver, m.Name, m.Signature, receiver, m.Name)
	return sb.String()
}
