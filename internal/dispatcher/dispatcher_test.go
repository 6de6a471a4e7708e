package dispatcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/caseworker/internal/model"
)

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "caseworker.tasks.case-1", subjectFor("case-1"))
	assert.Equal(t, "caseworker.tasks.", subjectFor(""))
}

func TestTaskMarshalRoundTrip(t *testing.T) {
	task := Task{
		CaseID:      "case-1",
		TriggerType: model.TriggerInboundMessage,
		MessageID:   "msg-1",
	}

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var got Task
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, task, got)
}

func TestTaskOmitsEmptyOptionalFields(t *testing.T) {
	task := Task{CaseID: "case-1", TriggerType: model.TriggerTimer}

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasMessageID := raw["message_id"]
	_, hasProposalID := raw["proposal_id"]
	assert.False(t, hasMessageID)
	assert.False(t, hasProposalID)
}
