package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rookline/chessync/internal/support/exception"
	"github.com/rookline/chessync/internal/support/logger"
)

// RunStatus represents the state of a synchronization run.
type RunStatus string

const (
	RunStatusStarting   RunStatus = "STARTING"
	RunStatusRunning    RunStatus = "RUNNING"
	RunStatusCancelling RunStatus = "CANCELLING"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
	RunStatusCancelled  RunStatus = "CANCELLED"
	RunStatusUnknown    RunStatus = "UNKNOWN"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsFinished checks if the RunStatus represents a terminal state.
func (s RunStatus) IsFinished() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// RunMode selects how much of the external dataset a run covers.
type RunMode string

const (
	// RunModeFull imports every record the source exposes.
	RunModeFull RunMode = "FULL"
	// RunModeIncremental imports only records that are stale or previously errored.
	RunModeIncremental RunMode = "INCREMENTAL"
)

// String returns the string representation of the RunMode.
func (m RunMode) String() string {
	return string(m)
}

// ParseRunMode converts a string to a RunMode (case-insensitive).
// Unrecognized values return RunModeFull and false.
func ParseRunMode(s string) (RunMode, bool) {
	switch strings.ToUpper(s) {
	case "FULL":
		return RunModeFull, true
	case "INCREMENTAL":
		return RunModeIncremental, true
	default:
		return RunModeFull, false
	}
}

// EntityKind identifies one of the synchronized record families.
type EntityKind string

const (
	EntityPlayers     EntityKind = "players"
	EntityClubs       EntityKind = "clubs"
	EntityTournaments EntityKind = "tournaments"
	EntityGames       EntityKind = "games"
)

// String returns the string representation of the EntityKind.
func (k EntityKind) String() string {
	return string(k)
}

// PhaseOrder is the fixed processing order of a run. Referentially depended-on
// kinds come first so that games can resolve players, clubs and tournaments.
var PhaseOrder = []EntityKind{EntityPlayers, EntityClubs, EntityTournaments, EntityGames}

// NextPhase returns the kind that follows k in PhaseOrder, and false when k
// is the last phase or not a known kind.
func NextPhase(k EntityKind) (EntityKind, bool) {
	for i, p := range PhaseOrder {
		if p == k && i+1 < len(PhaseOrder) {
			return PhaseOrder[i+1], true
		}
	}
	return "", false
}

// maxRecordedFailures caps the number of failure messages kept on a run so
// that a pathological source cannot grow the row without bound.
const maxRecordedFailures = 50

// FailureList holds a list of error messages.
type FailureList []string

// Value implements the `driver.Valuer` interface, converting FailureList to a JSON string.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	if value == nil {
		*fl = make(FailureList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}

	if len(b) == 0 {
		*fl = make(FailureList, 0)
		return nil
	}

	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}

// RunCounts aggregates per-run record statistics.
type RunCounts struct {
	Fetched  int `json:"fetched"`  // Fetched is the number of records received from the source.
	Upserted int `json:"upserted"` // Upserted is the number of records inserted or updated.
	Skipped  int `json:"skipped"`  // Skipped is the number of records left untouched (unchanged payload).
	Failed   int `json:"failed"`   // Failed is the number of records that could not be stored.
}

// Value implements the `driver.Valuer` interface, converting RunCounts to a JSON string.
func (rc RunCounts) Value() (driver.Value, error) {
	data, err := json.Marshal(rc)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to RunCounts.
func (rc *RunCounts) Scan(value interface{}) error {
	if value == nil {
		*rc = RunCounts{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for RunCounts: %T", value)
	}
	if len(b) == 0 {
		*rc = RunCounts{}
		return nil
	}
	if err := json.Unmarshal(b, rc); err != nil {
		return fmt.Errorf("failed to unmarshal RunCounts JSON: %w", err)
	}
	return nil
}

// Add accumulates the counts from other into rc.
func (rc *RunCounts) Add(other RunCounts) {
	rc.Fetched += other.Fetched
	rc.Upserted += other.Upserted
	rc.Skipped += other.Skipped
	rc.Failed += other.Failed
}

// SyncRun is a structure representing a single synchronization run.
type SyncRun struct {
	ID           string     `gorm:"primaryKey;size:36"`
	Mode         RunMode    `gorm:"size:16"`
	Status       RunStatus  `gorm:"size:16;index"`
	CurrentPhase EntityKind `gorm:"size:16"`
	StartTime    time.Time
	EndTime      *time.Time
	Counts       RunCounts   `gorm:"type:text"`
	Failures     FailureList `gorm:"type:text"`
	ResumedFrom  string      `gorm:"size:36"`  // ResumedFrom is the ID of the interrupted run this one continued, if any.
	Integrity    string      `gorm:"size:255"` // Integrity is the verdict of the post-run integrity check, empty until run.
	LastUpdated  time.Time
	Version      int
}

// TableName maps SyncRun to its table.
func (SyncRun) TableName() string {
	return "sync_runs"
}

// NewSyncRun creates a new instance of SyncRun in the STARTING state.
func NewSyncRun(mode RunMode) *SyncRun {
	now := time.Now()
	return &SyncRun{
		ID:           NewID(),
		Mode:         mode,
		Status:       RunStatusStarting,
		CurrentPhase: PhaseOrder[0],
		StartTime:    now,
		Failures:     make(FailureList, 0),
		LastUpdated:  now,
	}
}

// isValidRunTransition checks if the state transition for SyncRun is valid.
func isValidRunTransition(current, next RunStatus) bool {
	switch current {
	case RunStatusStarting:
		return next == RunStatusRunning || next == RunStatusFailed || next == RunStatusCancelled
	case RunStatusRunning:
		return next == RunStatusCancelling || next == RunStatusCompleted || next == RunStatusFailed || next == RunStatusCancelled
	case RunStatusCancelling:
		return next == RunStatusCancelled || next == RunStatusFailed
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		// Terminal states do not transition. A resumed run is a new SyncRun.
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the state of SyncRun. Note: fields other
// than Status and LastUpdated must be set separately by the caller.
func (r *SyncRun) TransitionTo(newStatus RunStatus) error {
	if !isValidRunTransition(r.Status, newStatus) {
		return fmt.Errorf("SyncRun (ID: %s): Invalid state transition: %s -> %s", r.ID, r.Status, newStatus)
	}
	r.Status = newStatus
	return nil
}

// MarkAsRunning updates the SyncRun status to RUNNING.
func (r *SyncRun) MarkAsRunning() {
	if err := r.TransitionTo(RunStatusRunning); err != nil {
		logger.Warnf("Could not update SyncRun (ID: %s) status to RUNNING: %v", r.ID, err)
		r.Status = RunStatusRunning
	}
	r.LastUpdated = time.Now()
}

// MarkAsCompleted updates the SyncRun status to COMPLETED.
func (r *SyncRun) MarkAsCompleted() {
	if err := r.TransitionTo(RunStatusCompleted); err != nil {
		logger.Warnf("Could not update SyncRun (ID: %s) status to COMPLETED: %v", r.ID, err)
		r.Status = RunStatusCompleted
	}
	now := time.Now()
	r.EndTime = &now
	r.LastUpdated = now
}

// MarkAsFailed updates the SyncRun status to FAILED and records the error.
func (r *SyncRun) MarkAsFailed(err error) {
	if terr := r.TransitionTo(RunStatusFailed); terr != nil {
		logger.Warnf("Could not update SyncRun (ID: %s) status to FAILED: %v", r.ID, terr)
		r.Status = RunStatusFailed
	}
	now := time.Now()
	r.EndTime = &now
	r.LastUpdated = now
	if err != nil {
		r.AddFailure(err)
	}
}

// MarkAsCancelling updates the SyncRun status to CANCELLING.
func (r *SyncRun) MarkAsCancelling() {
	if err := r.TransitionTo(RunStatusCancelling); err != nil {
		logger.Warnf("Could not update SyncRun (ID: %s) status to CANCELLING: %v", r.ID, err)
		r.Status = RunStatusCancelling
	}
	r.LastUpdated = time.Now()
}

// MarkAsCancelled updates the SyncRun status to CANCELLED.
func (r *SyncRun) MarkAsCancelled() {
	if err := r.TransitionTo(RunStatusCancelled); err != nil {
		logger.Warnf("Could not update SyncRun (ID: %s) status to CANCELLED: %v", r.ID, err)
		r.Status = RunStatusCancelled
	}
	now := time.Now()
	r.EndTime = &now
	r.LastUpdated = now
}

// AddFailure records error information on the run. Duplicate messages are
// dropped and the list is capped at maxRecordedFailures entries.
func (r *SyncRun) AddFailure(err error) {
	if err == nil {
		return
	}
	errMsg := exception.ExtractErrorMessage(err)

	for _, existing := range r.Failures {
		if existing == errMsg {
			logger.Debugf("Skipped adding duplicate error '%s' to SyncRun (ID: %s).", errMsg, r.ID)
			return
		}
	}
	if len(r.Failures) >= maxRecordedFailures {
		logger.Debugf("Failure list for SyncRun (ID: %s) is full; dropping '%s'.", r.ID, errMsg)
		return
	}

	r.Failures = append(r.Failures, errMsg)
	r.LastUpdated = time.Now()
}

// CheckpointID is the fixed identifier of the single active checkpoint row.
// Only one run can be in flight, so one row is enough.
const CheckpointID = "current"

// SyncCheckpoint records the last fully committed position of an interrupted
// run. BatchIndex is the index of the last committed batch within the phase;
// -1 means the phase has produced no committed batches yet. LastSourceID is
// the source id of the final record of that batch, kept for diagnostics.
type SyncCheckpoint struct {
	ID           string     `gorm:"primaryKey;size:36"`
	RunID        string     `gorm:"size:36"`
	Mode         RunMode    `gorm:"size:16"` // Mode is the mode of the interrupted run; a resume keeps it.
	Phase        EntityKind `gorm:"size:16"`
	BatchIndex   int
	LastSourceID string `gorm:"size:64"`
	Progress     int    // Progress is the cumulative run progress in percent at checkpoint time.
	LastUpdated  time.Time
}

// TableName maps SyncCheckpoint to its table.
func (SyncCheckpoint) TableName() string {
	return "sync_checkpoints"
}

// StatusID is the fixed identifier of the single SyncStatus row.
const StatusID = "current"

// SyncStatus mirrors the live state of the active run in a single row, so
// that observers can poll cheaply without scanning the run log.
type SyncStatus struct {
	ID               string `gorm:"primaryKey;size:36"`
	IsRunning        bool
	Progress         int    // Progress is the overall run progress, 0 to 100.
	CurrentOperation string `gorm:"size:128"` // CurrentOperation is a human readable phase description.
	RunID            string `gorm:"size:36"`  // RunID is the run the row currently mirrors.
	LastError        string `gorm:"size:1024"`
	LastUpdated      time.Time
}

// TableName maps SyncStatus to its table.
func (SyncStatus) TableName() string {
	return "sync_status"
}

// NewSyncStatus returns the idle singleton status row.
func NewSyncStatus() *SyncStatus {
	return &SyncStatus{ID: StatusID, LastUpdated: time.Now()}
}

// KindStatus records the outcome of the most recent synchronization of one
// entity kind. There is at most one row per kind.
type KindStatus struct {
	Kind        EntityKind `gorm:"primaryKey;size:16"`
	LastRunID   string     `gorm:"size:36"`
	LastSyncAt  time.Time
	RecordCount int64
	Healthy     bool
	LastError   string `gorm:"size:1024"`
}

// TableName maps KindStatus to its table.
func (KindStatus) TableName() string {
	return "kind_statuses"
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// HashPayload calculates a stable hash of a source payload. The payload is
// converted to canonical JSON with sorted keys first, so logically identical
// payloads hash identically regardless of map iteration order.
func HashPayload(payload map[string]interface{}) (string, error) {
	normalizedJSON, err := toCanonicalJSON(payload)
	if err != nil {
		return "", exception.NewPermanentError("model", "failed to marshal payload to canonical JSON for hash calculation", err)
	}

	hasher := sha256.New()
	hasher.Write([]byte(normalizedJSON))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// toCanonicalJSON converts a payload to a canonical JSON string with sorted keys.
func toCanonicalJSON(payload map[string]interface{}) (string, error) {
	var marshalCanonical func(interface{}) ([]byte, error)
	marshalCanonical = func(val interface{}) ([]byte, error) {
		if m, ok := val.(map[string]interface{}); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			var sb strings.Builder
			sb.WriteString("{")
			for i, k := range keys {
				v := m[k]
				keyBytes, err := json.Marshal(k)
				if err != nil {
					return nil, err
				}
				valBytes, err := marshalCanonical(v)
				if err != nil {
					return nil, err
				}
				sb.Write(keyBytes)
				sb.WriteString(":")
				sb.Write(valBytes)
				if i < len(keys)-1 {
					sb.WriteString(",")
				}
			}
			sb.WriteString("}")
			return []byte(sb.String()), nil
		}
		return json.Marshal(val)
	}

	jsonBytes, err := marshalCanonical(payload)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}
