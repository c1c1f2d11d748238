// Package producer implements the capture-side API described in spec.md §6:
// record_session, append_frames, complete_session. Each call validates its
// input at the enqueue boundary, persists locally, and enqueues the change
// for the orchestrator to drain, the same typed-repo-plus-validation shape
// used for job creation elsewhere in this codebase, generalized to reject
// precondition violations before anything reaches the store.
package producer

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fitloop/syncd/internal/domain"
	"github.com/fitloop/syncd/internal/queue"
)

var (
	tracer   = otel.Tracer("producer")
	validate = validator.New()
)

// Producer is the typed facade capture code calls into. It holds no state
// beyond its store and queue manager handles.
type Producer struct {
	store domain.Store
	queue *queue.Manager
}

// New builds a Producer over the given store and queue manager.
func New(store domain.Store, qm *queue.Manager) *Producer {
	return &Producer{store: store, queue: qm}
}

// sessionInput is record_session's validated shape. ValidReps<=TotalReps is
// the cross-field invariant spec.md §3 pins on WorkoutSession; "ltefield"
// enforces it without a hand-rolled comparison.
type sessionInput struct {
	ID         string `validate:"required"`
	OwnerID    string `validate:"required"`
	ExerciseID string `validate:"required"`
	TotalReps  int    `validate:"gte=0"`
	ValidReps  int    `validate:"gte=0,ltefield=TotalReps"`
	StartedAt  int64  `validate:"gt=0"`
}

// RecordSession validates, persists, and enqueues a new session. An ID is
// generated if the caller left it blank, the same optional-ID convention
// used elsewhere in this codebase for created resources.
func (p *Producer) RecordSession(ctx domain.Context, s domain.WorkoutSession) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.RecordSession")
	defer span.End()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	span.SetAttributes(attribute.String("session.id", s.ID))

	in := sessionInput{ID: s.ID, OwnerID: s.OwnerID, ExerciseID: s.ExerciseID, TotalReps: s.TotalReps, ValidReps: s.ValidReps, StartedAt: s.StartedAt}
	if err := validate.Struct(in); err != nil {
		return "", fmt.Errorf("op=producer.record_session.validate: %w: %s", domain.ErrPrecondition, err.Error())
	}

	now := time.Now().UnixMilli()
	s.CreatedAt, s.UpdatedAt = now, now
	s.Synced = false

	if err := p.store.CreateSession(ctx, s); err != nil {
		return "", fmt.Errorf("op=producer.record_session.store: %w", err)
	}
	if _, err := p.queue.EnqueueJSON(ctx, domain.EntitySession, s.ID, domain.OpCreate, s); err != nil {
		return "", fmt.Errorf("op=producer.record_session.enqueue: %w", err)
	}
	return s.ID, nil
}

// frameInput is append_frames' per-frame validated shape.
type frameInput struct {
	SessionID   string  `validate:"required"`
	FrameNumber int64   `validate:"gte=0"`
	CapturedAt  int64   `validate:"gt=0"`
	Confidence  float64 `validate:"gte=0,lte=1"`
}

// AppendFrames validates and persists a batch of ML training frames captured
// during sessionID, then enqueues one ml-batch sync item for the whole
// batch — matching spec.md §3's "frames are enqueued as independent items"
// framing: one queue row per append_frames call, not one per frame.
func (p *Producer) AppendFrames(ctx domain.Context, sessionID string, frames []domain.MLTrainingFrame) error {
	ctx, span := tracer.Start(ctx, "producer.AppendFrames")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.Int("frame.count", len(frames)))

	if sessionID == "" {
		return fmt.Errorf("op=producer.append_frames.validate: %w: session_id is required", domain.ErrPrecondition)
	}
	if len(frames) == 0 {
		return fmt.Errorf("op=producer.append_frames.validate: %w: frames must be non-empty", domain.ErrPrecondition)
	}

	now := time.Now().UnixMilli()
	for i := range frames {
		frames[i].SessionID = sessionID
		if frames[i].ID == "" {
			frames[i].ID = uuid.New().String()
		}
		frames[i].CreatedAt = now
		frames[i].Synced = false

		in := frameInput{SessionID: frames[i].SessionID, FrameNumber: frames[i].FrameNumber, CapturedAt: frames[i].CapturedAt, Confidence: frames[i].Confidence}
		if err := validate.Struct(in); err != nil {
			return fmt.Errorf("op=producer.append_frames.validate: %w: %s", domain.ErrPrecondition, err.Error())
		}
	}

	if err := p.store.InsertFrames(ctx, frames); err != nil {
		return fmt.Errorf("op=producer.append_frames.store: %w", err)
	}
	if _, err := p.queue.EnqueueJSON(ctx, domain.EntityMLBatch, sessionID, domain.OpCreate, frames); err != nil {
		return fmt.Errorf("op=producer.append_frames.enqueue: %w", err)
	}
	return nil
}

// CompletionStats is complete_session's input: the final rep counts the
// capture pipeline computed once the set ended.
type CompletionStats struct {
	TotalReps   int
	ValidReps   int
	TotalPoints int
}

type completionInput struct {
	TotalReps int `validate:"gte=0"`
	ValidReps int `validate:"gte=0,ltefield=TotalReps"`
}

// CompleteSession marks a session completed: sets IsCompleted, CompletedAt,
// DurationSeconds (per spec.md §3's StartedAt/CompletedAt invariant), and
// the final stats, then enqueues the update.
func (p *Producer) CompleteSession(ctx domain.Context, sessionID string, stats CompletionStats) error {
	ctx, span := tracer.Start(ctx, "producer.CompleteSession")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	in := completionInput{TotalReps: stats.TotalReps, ValidReps: stats.ValidReps}
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("op=producer.complete_session.validate: %w: %s", domain.ErrPrecondition, err.Error())
	}

	s, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("op=producer.complete_session.get: %w", err)
	}

	now := time.Now().UnixMilli()
	s.TotalReps = stats.TotalReps
	s.ValidReps = stats.ValidReps
	s.TotalPoints = stats.TotalPoints
	s.IsCompleted = true
	s.CompletedAt = &now
	s.DurationSeconds = (now - s.StartedAt) / 1000
	s.UpdatedAt = now
	s.Synced = false

	if err := p.store.UpdateSession(ctx, s); err != nil {
		return fmt.Errorf("op=producer.complete_session.store: %w", err)
	}
	if _, err := p.queue.EnqueueJSON(ctx, domain.EntitySession, sessionID, domain.OpUpdate, s); err != nil {
		return fmt.Errorf("op=producer.complete_session.enqueue: %w", err)
	}
	return nil
}

// CacheUser refreshes the local read-through user metadata cache. The host
// app's auth/profile layer owns this data; the kernel only serves it back to
// the capture pipeline (RecordSession never needs to look a user up itself,
// since sessions carry owner_id directly).
func (p *Producer) CacheUser(ctx domain.Context, u domain.UserCache) error {
	if err := p.store.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("op=producer.cache_user: %w", err)
	}
	return nil
}

// LookupUser reads back a cached user row.
func (p *Producer) LookupUser(ctx domain.Context, id string) (domain.UserCache, error) {
	return p.store.GetUser(ctx, id)
}

// CacheExercise mirrors CacheUser for exercise metadata.
func (p *Producer) CacheExercise(ctx domain.Context, e domain.ExerciseCache) error {
	if err := p.store.UpsertExercise(ctx, e); err != nil {
		return fmt.Errorf("op=producer.cache_exercise: %w", err)
	}
	return nil
}

// LookupExercise reads back a cached exercise row.
func (p *Producer) LookupExercise(ctx domain.Context, id string) (domain.ExerciseCache, error) {
	return p.store.GetExercise(ctx, id)
}
