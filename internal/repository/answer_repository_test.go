package repository

import (
	"testing"

	"pattern-analysis-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestAnswersSinceFilter_OnlyRolledUpAnswers(t *testing.T) {
	filter := answersSinceFilter("u-1", analyzedAt, "s-2")

	assert.Equal(t, "u-1", filter["user_id"])
	assert.Equal(t, true, filter["rolled_up"])
	assert.Equal(t, bson.M{"$gte": analyzedAt}, filter["answered_at"])
	assert.Equal(t, bson.M{"$ne": "s-2"}, filter["session_id"])
}

func TestAnswersSinceFilter_NoExclusion(t *testing.T) {
	filter := answersSinceFilter("u-1", analyzedAt, "")

	assert.NotContains(t, filter, "session_id")
	assert.Equal(t, true, filter["rolled_up"])
}

func TestAnswerDocument_RecordedAsNotRolledUp(t *testing.T) {
	doc := answerDocument{
		UserID:    "u-1",
		SessionID: "s-1",
		Sequence:  0,
		QuestionAnswerRecord: models.QuestionAnswerRecord{
			QuestionID:   "q-1",
			QuestionType: "MULTIPLE_CHOICE",
			AnsweredAt:   analyzedAt,
		},
	}

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded bson.M
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	assert.Equal(t, false, decoded["rolled_up"])
	assert.Equal(t, "s-1", decoded["session_id"])
}
