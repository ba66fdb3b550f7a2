package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pattern-analysis-service/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const AnalysisCollection = "pattern_analyses"

// analysisDocument is the stored shape of a PatternAnalysisResult. Scalar
// fields used for lookups sit at the top level; the per-type table and
// lists are embedded.
type analysisDocument struct {
	AnalysisID         string  `bson:"analysis_id"`
	AnalysisType       string  `bson:"analysis_type"`
	UserID             string  `bson:"user_id"`
	SessionID          *string `bson:"session_id"`
	SourceSessionID    string  `bson:"source_session_id"`
	IdempotencyKey     string  `bson:"idempotency_key"`
	Merged             bool    `bson:"merged"`
	PreviousAnalysisID string  `bson:"previous_analysis_id,omitempty"`

	QuestionTypePerformances map[string]models.QuestionTypePerformance `bson:"question_type_performances"`
	ReviewRequiredTypes      []string                                  `bson:"review_required_types"`
	ImprovementRequiredTypes []string                                  `bson:"improvement_required_types"`
	StrengthTypes            []string                                  `bson:"strength_types"`
	RecentWrongQuestionIDs   []string                                  `bson:"recent_wrong_question_ids"`
	SlowSolvingTypes         []string                                  `bson:"slow_solving_types"`

	TotalQuestions            int     `bson:"total_questions"`
	CorrectAnswers            int     `bson:"correct_answers"`
	TotalTimeSeconds          int     `bson:"total_time_seconds"`
	OverallAccuracyRate       float64 `bson:"overall_accuracy_rate"`
	AverageSolvingTimeSeconds float64 `bson:"average_solving_time_seconds"`

	StudyFrequency        int            `bson:"study_frequency"`
	PreferredStudyTime    string         `bson:"preferred_study_time"`
	StudyDays             []time.Time    `bson:"study_days"`
	StudyTimeDistribution map[string]int `bson:"study_time_distribution"`

	AnalyzedAt time.Time `bson:"analyzed_at"`
	CreatedAt  time.Time `bson:"created_at"`
}

type AnalysisRepository struct {
	collection *mongo.Collection
}

func NewAnalysisRepository(database *mongo.Database, collection string) *AnalysisRepository {
	return &AnalysisRepository{
		collection: database.Collection(collection),
	}
}

// EnsureIndexes creates the unique idempotency index and the lookup indexes.
func (r *AnalysisRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "analysis_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "analysis_type", Value: 1},
				{Key: "analyzed_at", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "session_id", Value: 1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return &PersistenceError{Op: "create analysis indexes", Err: err}
	}
	return nil
}

// Save inserts the result under a fresh id. When a result with the same
// idempotency key already exists, nothing is written and the existing id is
// returned.
func (r *AnalysisRepository) Save(ctx context.Context, result *models.PatternAnalysisResult) (string, error) {
	doc := toDocument(result, uuid.NewString(), time.Now().UTC())

	_, err := r.collection.InsertOne(ctx, doc)
	if err == nil {
		return doc.AnalysisID, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return "", &PersistenceError{Op: "insert analysis", Err: err}
	}

	var existing analysisDocument
	err = r.collection.FindOne(ctx, bson.M{"idempotency_key": doc.IdempotencyKey}).Decode(&existing)
	if err != nil {
		return "", &PersistenceError{Op: "load existing analysis", Err: err}
	}
	return existing.AnalysisID, nil
}

// FindBySession returns the result of the given type produced by the
// session's completion, or nil when there is none.
func (r *AnalysisRepository) FindBySession(ctx context.Context, sessionID string, analysisType models.AnalysisType) (*models.PatternAnalysisResult, error) {
	filter := bson.M{"idempotency_key": models.IdempotencyKey(sessionID, analysisType)}
	return r.findOne(ctx, "find analysis by session", filter)
}

// LatestRolling returns the user's most recent ROLLING result analyzed at or
// after since, or nil.
func (r *AnalysisRepository) LatestRolling(ctx context.Context, userID string, since time.Time) (*models.PatternAnalysisResult, error) {
	filter := bson.M{
		"user_id":       userID,
		"analysis_type": string(models.AnalysisTypeRolling),
		"analyzed_at":   bson.M{"$gte": since},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "analyzed_at", Value: -1}})
	return r.findOne(ctx, "find latest rolling analysis", filter, opts)
}

// LastAnalyzedAt reports when any analysis was last stored for the user.
func (r *AnalysisRepository) LastAnalyzedAt(ctx context.Context, userID string) (time.Time, bool, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "analyzed_at", Value: -1}}).
		SetProjection(bson.M{"analyzed_at": 1})

	var doc struct {
		AnalyzedAt time.Time `bson:"analyzed_at"`
	}
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, &PersistenceError{Op: "find last analysis time", Err: err}
	}
	return doc.AnalyzedAt, true, nil
}

func (r *AnalysisRepository) findOne(ctx context.Context, op string, filter bson.M, opts ...options.Lister[options.FindOneOptions]) (*models.PatternAnalysisResult, error) {
	var doc analysisDocument
	err := r.collection.FindOne(ctx, filter, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: op, Err: err}
	}

	result, err := fromDocument(&doc)
	if err != nil {
		return nil, &PersistenceError{Op: op, Err: err}
	}
	return result, nil
}

func toDocument(r *models.PatternAnalysisResult, analysisID string, createdAt time.Time) *analysisDocument {
	doc := &analysisDocument{
		AnalysisID:      analysisID,
		AnalysisType:    string(r.Type()),
		UserID:          r.UserID,
		SourceSessionID: r.Scope.SourceSessionID(),
		IdempotencyKey:  r.IdempotencyKey(),

		QuestionTypePerformances: r.QuestionTypePerformances,
		ReviewRequiredTypes:      r.ReviewRequiredTypes,
		ImprovementRequiredTypes: r.ImprovementRequiredTypes,
		StrengthTypes:            r.StrengthTypes,
		RecentWrongQuestionIDs:   r.RecentWrongQuestionIDs,
		SlowSolvingTypes:         r.SlowSolvingTypes,

		TotalQuestions:            r.TotalQuestions,
		CorrectAnswers:            r.CorrectAnswers,
		TotalTimeSeconds:          r.TotalTimeSeconds,
		OverallAccuracyRate:       r.OverallAccuracyRate,
		AverageSolvingTimeSeconds: r.AverageSolvingTimeSeconds,

		StudyFrequency:        r.StudyFrequency,
		PreferredStudyTime:    string(r.PreferredStudyTime),
		StudyDays:             r.StudyDays,
		StudyTimeDistribution: make(map[string]int, len(r.StudyTimeDistribution)),

		AnalyzedAt: r.AnalyzedAt,
		CreatedAt:  createdAt,
	}

	switch scope := r.Scope.(type) {
	case models.SessionScope:
		sessionID := scope.SessionID
		doc.SessionID = &sessionID
	case models.RollingScope:
		doc.Merged = scope.Merged
		doc.PreviousAnalysisID = scope.PreviousAnalysisID
	}

	for slot, count := range r.StudyTimeDistribution {
		doc.StudyTimeDistribution[string(slot)] = count
	}
	return doc
}

func fromDocument(doc *analysisDocument) (*models.PatternAnalysisResult, error) {
	var scope models.Scope
	switch models.AnalysisType(doc.AnalysisType) {
	case models.AnalysisTypeSession:
		if doc.SessionID == nil {
			return nil, fmt.Errorf("analysis %s: SESSION record without session_id", doc.AnalysisID)
		}
		scope = models.SessionScope{SessionID: *doc.SessionID}
	case models.AnalysisTypeRolling:
		scope = models.RollingScope{
			TriggeredBy:        doc.SourceSessionID,
			Merged:             doc.Merged,
			PreviousAnalysisID: doc.PreviousAnalysisID,
		}
	default:
		return nil, fmt.Errorf("analysis %s: unknown analysis_type %q", doc.AnalysisID, doc.AnalysisType)
	}

	performances := doc.QuestionTypePerformances
	if performances == nil {
		performances = map[string]models.QuestionTypePerformance{}
	}

	distribution := make(map[models.StudyTimeSlot]int, len(doc.StudyTimeDistribution))
	for slot, count := range doc.StudyTimeDistribution {
		distribution[models.StudyTimeSlot(slot)] = count
	}

	studyDays := make([]time.Time, 0, len(doc.StudyDays))
	for _, day := range doc.StudyDays {
		studyDays = append(studyDays, day.UTC())
	}

	return &models.PatternAnalysisResult{
		AnalysisID: doc.AnalysisID,
		Scope:      scope,
		UserID:     doc.UserID,

		QuestionTypePerformances: performances,
		ReviewRequiredTypes:      nonNil(doc.ReviewRequiredTypes),
		ImprovementRequiredTypes: nonNil(doc.ImprovementRequiredTypes),
		StrengthTypes:            nonNil(doc.StrengthTypes),
		RecentWrongQuestionIDs:   nonNil(doc.RecentWrongQuestionIDs),
		SlowSolvingTypes:         nonNil(doc.SlowSolvingTypes),

		TotalQuestions:            doc.TotalQuestions,
		CorrectAnswers:            doc.CorrectAnswers,
		TotalTimeSeconds:          doc.TotalTimeSeconds,
		OverallAccuracyRate:       doc.OverallAccuracyRate,
		AverageSolvingTimeSeconds: doc.AverageSolvingTimeSeconds,

		StudyFrequency:        doc.StudyFrequency,
		PreferredStudyTime:    models.StudyTimeSlot(doc.PreferredStudyTime),
		StudyDays:             studyDays,
		StudyTimeDistribution: distribution,

		AnalyzedAt: doc.AnalyzedAt.UTC(),
	}, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
