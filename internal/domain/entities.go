// Package domain defines the core entities, ports, and sentinel errors shared
// by every subsystem of the sync kernel.
package domain

import (
	"context"
	"time"
)

// Context is a type alias to stdlib context.Context so domain files stay free
// of import churn while adapters pass the real thing through unchanged.
type Context = context.Context

// EntityKind enumerates the kinds of records the sync queue can carry.
type EntityKind string

// Entity kinds.
const (
	EntitySession EntityKind = "session"
	EntityMLBatch EntityKind = "ml-batch"
	EntityRep     EntityKind = "rep" // reserved, not yet produced by any capture path
)

// Operation enumerates the verbs a queue item can carry.
type Operation string

// Queue operations.
const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// WorkoutSession is a closed unit of exercise activity produced on-device.
//
// Invariants: ValidReps <= TotalReps; if IsCompleted then CompletedAt is set
// and DurationSeconds == (CompletedAt-StartedAt)/1000; Synced == true implies
// the row is deleted by the next cleanup tick.
type WorkoutSession struct {
	ID              string  `json:"id"`
	OwnerID         string  `json:"owner_id"`
	ExerciseID      string  `json:"exercise_id"`
	TotalReps       int     `json:"total_reps"`
	ValidReps       int     `json:"valid_reps"`
	TotalPoints     int     `json:"total_points"`
	Orientation     string  `json:"orientation"`
	StartedAt       int64   `json:"started_at"` // ms since epoch
	CompletedAt     *int64  `json:"completed_at,omitempty"`
	DurationSeconds int64   `json:"duration_seconds"`
	IsCompleted     bool    `json:"is_completed"`
	Synced          bool    `json:"synced"`
	CreatedAt       int64   `json:"created_at"`
	UpdatedAt       int64   `json:"updated_at"`
}

// MLTrainingFrame is an append-only sample captured during a session, never
// mutated after insert. Unique on (SessionID, FrameNumber).
type MLTrainingFrame struct {
	ID          string             `json:"id"`
	SessionID   string             `json:"session_id"`
	FrameNumber int64              `json:"frame_number"`
	CapturedAt  int64              `json:"captured_at"`
	Landmarks   []byte             `json:"landmarks"` // opaque; encoding is a producer concern
	AngleData   map[string]float64 `json:"angle_data,omitempty"`
	PhaseLabel  string             `json:"phase_label"`
	IsValid     bool               `json:"is_valid"`
	Confidence  float64            `json:"confidence"`
	Synced      bool               `json:"synced"`
	CreatedAt   int64              `json:"created_at"`
}

// SyncQueueItem is a unit of work for the orchestrator to drain.
//
// Invariants: RetryCount is monotonically non-decreasing until a manual
// Reset; an item is "failed" iff RetryCount >= MaxRetries (5).
type SyncQueueItem struct {
	ID         int64
	EntityKind EntityKind
	EntityID   string
	Operation  Operation
	Payload    []byte // opaque; decoded by the transport adapter only
	RetryCount int
	LastError  string
	CreatedAt  int64
	UpdatedAt  int64
}

// MaxRetries is the retry ceiling past which an item is parked as "failed".
const MaxRetries = 5

// Failed reports whether the item has exhausted its retry budget.
func (i SyncQueueItem) Failed() bool { return i.RetryCount >= MaxRetries }

// ConnectionType enumerates the host's reported network transport.
type ConnectionType string

// Connection types.
const (
	ConnWifi     ConnectionType = "wifi"
	ConnCellular ConnectionType = "cellular"
	ConnEthernet ConnectionType = "ethernet"
	ConnUnknown  ConnectionType = "unknown"
	ConnNone     ConnectionType = "none"
)

// CellularGeneration enumerates the cellular radio generation, when known.
type CellularGeneration string

// Cellular generations.
const (
	Cell5G      CellularGeneration = "5g"
	Cell4G      CellularGeneration = "4g"
	Cell3G      CellularGeneration = "3g"
	CellUnknown CellularGeneration = ""
)

// Quality is the coarse network-quality bucket derived by the monitor.
type Quality string

// Quality buckets.
const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityOffline   Quality = "offline"
)

// NetworkStatus is derived, in-memory only; never persisted.
type NetworkStatus struct {
	Connected        bool           `json:"connected"`
	Quality          Quality        `json:"quality"`
	ConnectionType   ConnectionType `json:"connection_type"`
	Metered          bool           `json:"metered"`
	CanSync          bool           `json:"can_sync"`
	RecommendedBatch int            `json:"recommended_batch"`
	RetryFloorMS     int64          `json:"retry_floor_ms"`
}

// NetworkEvent is what the host's network subscription delivers on change.
type NetworkEvent struct {
	Connected  bool
	Type       ConnectionType
	CellularGen CellularGeneration
	Metered    bool
}

// ResolutionStrategy is the outcome of the conflict detector.
type ResolutionStrategy string

// Resolution strategies.
const (
	StrategyClientWins ResolutionStrategy = "client_wins"
	StrategyServerWins ResolutionStrategy = "server_wins"
	StrategyMerge      ResolutionStrategy = "merge"
	StrategyManual     ResolutionStrategy = "manual"
)

// ConflictResult is the pure output of the conflict detector.
type ConflictResult struct {
	HasConflict bool
	Fields      []string
	Strategy    ResolutionStrategy
}

// EventKind enumerates the orchestrator's event-bus event types.
type EventKind string

// Event kinds emitted by the orchestrator.
const (
	EventSyncStarted   EventKind = "sync_started"
	EventSyncQueueing  EventKind = "sync_queueing"
	EventSyncProcessing EventKind = "sync_processing"
	EventSyncProgress  EventKind = "sync_progress"
	EventSyncCompleted EventKind = "sync_completed"
	EventSyncFailed    EventKind = "sync_failed"
	EventSyncConflict  EventKind = "sync_conflict"
)

// Event is a single message published on the orchestrator's event bus.
type Event struct {
	Kind      EventKind     `json:"kind"`
	RunID     string        `json:"run_id,omitempty"`
	ItemID    int64         `json:"item_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Synced    int           `json:"synced,omitempty"`
	Failed    int           `json:"failed,omitempty"`
	Conflicts int           `json:"conflicts,omitempty"`
	Total     int           `json:"total,omitempty"`
	Current   int           `json:"current,omitempty"`
	ETA       time.Duration `json:"eta_ms,omitempty"`
	At        time.Time     `json:"at"`
}

// Listener receives events synchronously on the orchestrator's goroutine; it
// must not block.
type Listener func(Event)

// NetworkListener receives the current NetworkStatus synchronously on the
// monitor's goroutine, immediately upon subscription and again on every
// connected/quality/type transition; it must not block.
type NetworkListener func(NetworkStatus)

// ResolveAction enumerates the operator's manual-conflict-resolution choices.
type ResolveAction string

// Resolve actions.
const (
	ResolveAccept ResolveAction = "accept"
	ResolveRetry  ResolveAction = "retry"
	ResolveSkip   ResolveAction = "skip"
)

// UploadOutcomeKind enumerates what the transport reported for one item.
type UploadOutcomeKind string

// Upload outcome kinds.
const (
	OutcomeAck              UploadOutcomeKind = "ack"
	OutcomeConflict         UploadOutcomeKind = "conflict"
	OutcomeTransientError   UploadOutcomeKind = "transient_error"
	OutcomePermanentError   UploadOutcomeKind = "permanent_error"
)

// UploadOutcome is the transport's verdict on one queue item.
type UploadOutcome struct {
	Kind         UploadOutcomeKind
	ServerRecord map[string]any // present when Kind == OutcomeConflict
	Err          error
}

// Transport is the narrow interface the orchestrator depends on; real
// implementations wrap the remote RPC (e.g. the host app's GraphQL client).
type Transport interface {
	Upload(ctx Context, item SyncQueueItem) (UploadOutcome, error)
}

// NetworkSource is the host's network-event subscription, consumed by the
// network monitor.
type NetworkSource interface {
	Subscribe(ctx Context, onChange func(NetworkEvent)) (unsubscribe func(), err error)
}

// Store is the durable, transactional embedded store (§4.1).
type Store interface {
	SessionStore
	FrameStore
	QueueStore
	LifecycleStore
	CacheStore
}

// UserCache and ExerciseCache are small read-through caches of metadata a
// session references. Neither is ever synced by the orchestrator; a host
// app's auth/profile layer is the sole writer, the sync kernel only serves
// reads back to the capture pipeline.
type UserCache struct {
	ID          string
	DisplayName string
	LastSeenAt  int64
}

// ExerciseCache mirrors UserCache for exercise metadata.
type ExerciseCache struct {
	ID          string
	DisplayName string
	LastSeenAt  int64
}

// CacheStore is the typed CRUD surface over the user/exercise metadata
// caches.
type CacheStore interface {
	UpsertUser(ctx Context, u UserCache) error
	GetUser(ctx Context, id string) (UserCache, error)
	UpsertExercise(ctx Context, e ExerciseCache) error
	GetExercise(ctx Context, id string) (ExerciseCache, error)
}

// StorageUsage is the byte-level accounting the data lifecycle component
// checks against its storage caps.
type StorageUsage struct {
	TotalBytes int64
	MLBytes    int64
}

// LifecycleStore is the retention/cleanup surface the data lifecycle
// component sits on top of (§4.7).
type LifecycleStore interface {
	// UnsyncedSessionsOlderThan returns synced=0 sessions whose updated_at is
	// at or before cutoffMS, oldest first.
	UnsyncedSessionsOlderThan(ctx Context, cutoffMS int64) ([]WorkoutSession, error)
	// StorageUsage reports the on-disk footprint of the store as a whole and
	// of the ML-frame table specifically.
	StorageUsage(ctx Context) (StorageUsage, error)
	// DeleteSyncedSessions deletes every session with synced=1 that has no
	// pending queue item referencing it (cascading to its frames), and
	// reports how many were removed. This is the "next cleanup tick" half of
	// the synced=true invariant: MarkSessionSynced flips the flag, this call
	// reclaims the row.
	DeleteSyncedSessions(ctx Context) (int, error)
	// DeleteSyncedFrames deletes frames with synced=1 whose owning session is
	// not itself synced (so the session row persists while its already-acked
	// frame batches are reclaimed) and which no pending ml-batch queue item
	// still references.
	DeleteSyncedFrames(ctx Context) (int, error)
}

// SessionStore is the typed CRUD surface over the sessions table.
type SessionStore interface {
	CreateSession(ctx Context, s WorkoutSession) error
	UpdateSession(ctx Context, s WorkoutSession) error
	GetSession(ctx Context, id string) (WorkoutSession, error)
	ListSessionsByOwner(ctx Context, ownerID string, onlyUnsynced bool) ([]WorkoutSession, error)
	MarkSessionSynced(ctx Context, id string) error
	DeleteSession(ctx Context, id string) error
}

// FrameStore is the typed CRUD surface over the ml_training_frames table.
type FrameStore interface {
	InsertFrames(ctx Context, frames []MLTrainingFrame) error
	ListFramesBySession(ctx Context, sessionID string) ([]MLTrainingFrame, error)
	MarkFramesSynced(ctx Context, sessionID string) error
	DeleteFramesBySession(ctx Context, sessionID string) error
}

// QueueStore is the persistence surface the queue manager sits on top of.
type QueueStore interface {
	InsertQueueItem(ctx Context, item SyncQueueItem) (int64, error)
	GetQueueItem(ctx Context, id int64) (SyncQueueItem, error)
	ListQueuePending(ctx Context, limit int) ([]SyncQueueItem, error)
	ListQueueRetryable(ctx Context, limit int, now int64, force bool) ([]SyncQueueItem, error)
	ListQueueFailed(ctx Context) ([]SyncQueueItem, error)
	UpdateQueueFailure(ctx Context, id int64, errText string, now int64) error
	ResetQueueItem(ctx Context, id int64) error
	DeleteQueueItem(ctx Context, id int64) error
	DeleteQueueItems(ctx Context, ids []int64) error
	FindQueueItem(ctx Context, kind EntityKind, entityID string, op Operation) (SyncQueueItem, bool, error)
	ReplaceQueuePayload(ctx Context, kind EntityKind, entityID string, op Operation, payload []byte, now int64) error
	QueueStats(ctx Context) (total, pending, retrying, failed int, err error)
	// PurgeOrphanQueueItems deletes queue items whose referenced entity no
	// longer exists locally; the store itself resolves existence since it
	// already holds both tables.
	PurgeOrphanQueueItems(ctx Context) (int, error)
}
