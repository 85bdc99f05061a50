package brain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseActionData_ProposeToolModification(t *testing.T) {
	raw := []byte(`{"action_type":"PROPOSE_TOOL_MODIFICATION","action_details":{"module_path":"tools.weather","function_name":"GetForecast","change_description":"fix off-by-one","original_reflection_entry_id":42}}`)

	var action Action
	require.NoError(t, json.Unmarshal(raw, &action))
	require.Equal(t, ActionTypeProposeToolModification, action.Type)

	data, err := ParseActionData[ProposeToolModificationAction](action)
	require.NoError(t, err)
	require.Equal(t, "tools.weather", data.ModulePath)
	require.Equal(t, "GetForecast", data.FunctionName)
	require.Equal(t, int64(42), data.OriginalReflectionEntryID)
	require.Empty(t, data.SuggestedCodeChange)
}

func TestParseActionData_AddLearnedFact(t *testing.T) {
	raw := []byte(`{"action_type":"ADD_LEARNED_FACT","action_details":{"text":"The user prefers terse responses","source":"learning_agent"}}`)

	var action Action
	require.NoError(t, json.Unmarshal(raw, &action))
	require.Equal(t, ActionTypeAddLearnedFact, action.Type)

	data, err := ParseActionData[AddLearnedFactAction](action)
	require.NoError(t, err)
	require.Equal(t, "The user prefers terse responses", data.Text)
	require.Equal(t, "learning_agent", data.Source)
}

func TestParseActionData_MalformedDataIsAnError(t *testing.T) {
	action := Action{Type: ActionTypeAddLearnedFact, Data: json.RawMessage(`not json`)}
	_, err := ParseActionData[AddLearnedFactAction](action)
	require.Error(t, err)
}
