package repository

import (
	"context"
	"time"

	"pattern-analysis-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const AnswerCollection = "session_answers"

// answerDocument is one answered question. Sequence is the answer's position
// within its session and, together with session_id, its identity. RolledUp
// is set once the session's rolling analysis is stored.
type answerDocument struct {
	UserID     string    `bson:"user_id"`
	SessionID  string    `bson:"session_id"`
	Sequence   int       `bson:"sequence"`
	RecordedAt time.Time `bson:"recorded_at"`
	RolledUp   bool      `bson:"rolled_up"`

	models.QuestionAnswerRecord `bson:",inline"`
}

// AnswerRepository keeps the raw answers of analyzed sessions so a rolling
// analysis can be rebuilt from scratch.
type AnswerRepository struct {
	collection *mongo.Collection
}

func NewAnswerRepository(database *mongo.Database, collection string) *AnswerRepository {
	return &AnswerRepository{
		collection: database.Collection(collection),
	}
}

func (r *AnswerRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "session_id", Value: 1},
				{Key: "sequence", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "answered_at", Value: 1},
			},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return &PersistenceError{Op: "create answer indexes", Err: err}
	}
	return nil
}

// RecordSession upserts the session's answers as not yet rolled up.
// Recording the same session twice leaves one copy.
func (r *AnswerRepository) RecordSession(ctx context.Context, userID, sessionID string, answers []models.QuestionAnswerRecord) error {
	if len(answers) == 0 {
		return nil
	}

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(answers))
	for i, answer := range answers {
		doc := answerDocument{
			UserID:               userID,
			SessionID:            sessionID,
			Sequence:             i,
			RecordedAt:           now,
			QuestionAnswerRecord: answer,
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"session_id": sessionID, "sequence": i}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	_, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return &PersistenceError{Op: "record session answers", Err: err}
	}
	return nil
}

// MarkRolledUp flags the session's answers as part of a stored rolling
// analysis. Marking twice is harmless.
func (r *AnswerRepository) MarkRolledUp(ctx context.Context, sessionID string) error {
	_, err := r.collection.UpdateMany(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"rolled_up": true}},
	)
	if err != nil {
		return &PersistenceError{Op: "mark answers rolled up", Err: err}
	}
	return nil
}

// AnswersSince returns the user's rolled-up answers given at or after since,
// oldest first, leaving out excludeSessionID. Answers of a session whose
// rolling analysis was never stored are not returned; that session folds
// them in itself when it is retried.
func (r *AnswerRepository) AnswersSince(ctx context.Context, userID string, since time.Time, excludeSessionID string) ([]models.QuestionAnswerRecord, error) {
	filter := answersSinceFilter(userID, since, excludeSessionID)
	opts := options.Find().SetSort(bson.D{
		{Key: "answered_at", Value: 1},
		{Key: "sequence", Value: 1},
	})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, &PersistenceError{Op: "find answers", Err: err}
	}
	defer cursor.Close(ctx)

	var docs []answerDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &PersistenceError{Op: "decode answers", Err: err}
	}

	answers := make([]models.QuestionAnswerRecord, 0, len(docs))
	for _, doc := range docs {
		record := doc.QuestionAnswerRecord
		record.AnsweredAt = record.AnsweredAt.UTC()
		answers = append(answers, record)
	}
	return answers, nil
}

func answersSinceFilter(userID string, since time.Time, excludeSessionID string) bson.M {
	filter := bson.M{
		"user_id":     userID,
		"answered_at": bson.M{"$gte": since},
		"rolled_up":   true,
	}
	if excludeSessionID != "" {
		filter["session_id"] = bson.M{"$ne": excludeSessionID}
	}
	return filter
}
