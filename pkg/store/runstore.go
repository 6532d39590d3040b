package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/errs"
	"github.com/replicatedhq/chartsmith/pkg/logger"
)

// PG is a thin method-set adapter over the package-level run store
// functions, letting callers (pkg/runmanager, pkg/delivery) depend on a
// narrow interface instead of the package directly.
type PG struct{}

func (PG) CreateRun(ctx context.Context, run *domain.Run) error {
	return CreateRun(ctx, run)
}
func (PG) UpdateStatus(ctx context.Context, runID string, newStatus domain.Status, errKind, errMessage string) error {
	return UpdateStatus(ctx, runID, newStatus, errKind, errMessage)
}
func (PG) SetFinalContent(ctx context.Context, runID string, content string, metadata map[string]interface{}) error {
	return SetFinalContent(ctx, runID, content, metadata)
}
func (PG) AppendActivity(ctx context.Context, runID string, kind domain.ActivityKind, payload map[string]interface{}) (domain.Activity, error) {
	return AppendActivity(ctx, runID, kind, payload)
}
func (PG) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return GetRun(ctx, runID)
}
func (PG) ListActivitiesSince(ctx context.Context, runID string, sinceSeq int64, limit int) ([]domain.Activity, error) {
	return ListActivitiesSince(ctx, runID, sinceSeq, limit)
}
func (PG) ListActivitiesBetween(ctx context.Context, runID string, lowSeq, highSeq int64) ([]domain.Activity, error) {
	return ListActivitiesBetween(ctx, runID, lowSeq, highSeq)
}
func (PG) SweepStaleRuns(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return SweepStaleRuns(ctx, olderThan)
}

// CreateRun inserts a new run row in status=queued.
func CreateRun(ctx context.Context, run *domain.Run) error {
	conn := MustGetPooledSession()
	defer conn.Release()

	paramsJSON, err := json.Marshal(runParams(run))
	if err != nil {
		return errs.New(errs.KindInternal, err)
	}
	filesJSON, err := json.Marshal(run.Files)
	if err != nil {
		return errs.New(errs.KindInternal, err)
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO runs (id, user_id, org_id, mode, goal, params, files, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, run.ID, run.UserID, run.OrgID, string(run.Mode), run.Goal, paramsJSON, filesJSON, string(run.Status), run.CreatedAt)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "insert run")
	}
	return nil
}

type runParamsDoc struct {
	Depth        domain.Depth        `json:"depth"`
	Focus        string              `json:"focus,omitempty"`
	TemplateType string              `json:"templateType,omitempty"`
	ChartTypes   []domain.ChartKind  `json:"chartTypes,omitempty"`
	PlanFormat   string              `json:"planFormat,omitempty"`
}

func runParams(run *domain.Run) runParamsDoc {
	return runParamsDoc{
		Depth:        run.Depth,
		Focus:        run.Focus,
		TemplateType: run.TemplateType,
		ChartTypes:   run.ChartTypes,
		PlanFormat:   run.PlanFormat,
	}
}

// validTransitions enforces invariant 1: status moves only forward.
var validTransitions = map[domain.Status]map[domain.Status]bool{
	domain.StatusQueued:  {domain.StatusRunning: true, domain.StatusCancelled: true, domain.StatusFailed: true},
	domain.StatusRunning: {domain.StatusCompleted: true, domain.StatusFailed: true, domain.StatusCancelled: true},
}

// UpdateStatus transitions a run's status, rejecting any transition that
// does not respect invariant 1.
func UpdateStatus(ctx context.Context, runID string, newStatus domain.Status, errKind, errMessage string) error {
	conn := MustGetPooledSession()
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1 FOR UPDATE`, runID)
	var current string
	if err := row.Scan(&current); err != nil {
		if err == pgx.ErrNoRows {
			return errs.New(errs.KindInternal, fmt.Errorf("run %s not found", runID))
		}
		return errs.Wrap(errs.KindInternal, err, "read run status")
	}

	if !validTransitions[domain.Status(current)][newStatus] {
		return errs.New(errs.KindInternal, fmt.Errorf("invalid transition %s -> %s", current, newStatus))
	}

	now := time.Now()
	var completedAt *time.Time
	if newStatus == domain.StatusCompleted || newStatus == domain.StatusFailed || newStatus == domain.StatusCancelled {
		completedAt = &now
	}

	_, err := conn.Exec(ctx, `
		UPDATE runs
		SET status = $1, error_kind = NULLIF($2, ''), error_message = NULLIF($3, ''), updated_at = $4, completed_at = COALESCE($5, completed_at)
		WHERE id = $6
	`, string(newStatus), errKind, errMessage, now, completedAt, runID)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "update run status")
	}
	return nil
}

// SetFinalContent stores the compiled artifact. Callers invoke this only
// immediately before emitting run.completed (invariant 4).
func SetFinalContent(ctx context.Context, runID string, content string, metadata map[string]interface{}) error {
	conn := MustGetPooledSession()
	defer conn.Release()

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return errs.New(errs.KindInternal, err)
	}

	_, err = conn.Exec(ctx, `
		UPDATE runs SET final_content = $1, metadata = $2, updated_at = NOW() WHERE id = $3
	`, content, metaJSON, runID)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "set final content")
	}
	return nil
}

// AppendActivity atomically allocates the next seq for runID and inserts
// the activity row in one transaction — a transactional
// "SELECT max(seq)+1 FOR UPDATE" allocator that survives process restarts.
func AppendActivity(ctx context.Context, runID string, kind domain.ActivityKind, payload map[string]interface{}) (domain.Activity, error) {
	conn := MustGetPooledSession()
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return domain.Activity{}, errs.Wrap(errs.KindInternal, err, "begin append activity tx")
	}
	defer tx.Rollback(ctx)

	// Row-level lock on the run record serializes seq allocation per run;
	// concurrent appenders for *different* runs are unaffected.
	if _, err := tx.Exec(ctx, `SELECT id FROM runs WHERE id = $1 FOR UPDATE`, runID); err != nil {
		return domain.Activity{}, errs.Wrap(errs.KindInternal, err, "lock run row")
	}

	row := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM activities WHERE run_id = $1`, runID)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return domain.Activity{}, errs.Wrap(errs.KindInternal, err, "allocate seq")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return domain.Activity{}, errs.New(errs.KindInternal, err)
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO activities (run_id, seq, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, runID, seq, string(kind), payloadJSON, now)
	if err != nil {
		return domain.Activity{}, errs.Wrap(errs.KindInternal, err, "insert activity")
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Activity{}, errs.Wrap(errs.KindInternal, err, "commit append activity tx")
	}

	if err := notifyActivity(ctx, runID, seq); err != nil {
		// best-effort: subscribers can still observe the row via poll
		return domain.Activity{RunID: runID, Seq: seq, Kind: kind, Payload: payload, Timestamp: now}, nil
	}

	return domain.Activity{RunID: runID, Seq: seq, Kind: kind, Payload: payload, Timestamp: now}, nil
}

func notifyActivity(ctx context.Context, runID string, seq int64) error {
	conn := MustGetPooledSession()
	defer conn.Release()
	_, err := conn.Exec(ctx, `SELECT pg_notify('activity_appended', $1)`, fmt.Sprintf("%s:%d", runID, seq))
	return err
}

// GetRun returns the current snapshot of a run.
func GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	conn := MustGetPooledSession()
	defer conn.Release()

	row := conn.QueryRow(ctx, `
		SELECT id, user_id, org_id, mode, goal, params, files, status,
		       final_content, error_kind, error_message, metadata,
		       created_at, updated_at, completed_at
		FROM runs WHERE id = $1
	`, runID)

	var (
		run                                domain.Run
		mode, status                       string
		paramsJSON, filesJSON, metaJSON    []byte
		finalContent, errKind, errMessage  *string
		completedAt                        *time.Time
	)

	err := row.Scan(&run.ID, &run.UserID, &run.OrgID, &mode, &run.Goal, &paramsJSON, &filesJSON, &status,
		&finalContent, &errKind, &errMessage, &metaJSON, &run.CreatedAt, &run.UpdatedAt, &completedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.New(errs.KindInternal, fmt.Errorf("run %s not found", runID))
		}
		return nil, errs.Wrap(errs.KindInternal, err, "get run")
	}

	run.Mode = domain.Mode(mode)
	run.Status = domain.Status(status)
	if finalContent != nil {
		run.FinalContent = *finalContent
	}
	if errKind != nil {
		run.ErrorKind = *errKind
	}
	if errMessage != nil {
		run.ErrorMessage = *errMessage
	}
	run.CompletedAt = completedAt

	var p runParamsDoc
	if len(paramsJSON) > 0 {
		_ = json.Unmarshal(paramsJSON, &p)
	}
	run.Depth = p.Depth
	run.Focus = p.Focus
	run.TemplateType = p.TemplateType
	run.ChartTypes = p.ChartTypes
	run.PlanFormat = p.PlanFormat

	if len(filesJSON) > 0 {
		_ = json.Unmarshal(filesJSON, &run.Files)
	}

	var meta map[string]interface{}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &meta)
		if regen, ok := meta["regeneratedFrom"].(string); ok {
			run.RegeneratedFrom = regen
		}
	}

	return &run, nil
}

// ListActivitiesSince returns activities with seq > sinceSeq, ordered,
// capped at limit (0 = no cap).
func ListActivitiesSince(ctx context.Context, runID string, sinceSeq int64, limit int) ([]domain.Activity, error) {
	conn := MustGetPooledSession()
	defer conn.Release()

	query := `SELECT run_id, seq, kind, payload, created_at FROM activities WHERE run_id = $1 AND seq > $2 ORDER BY seq ASC`
	args := []interface{}{runID, sinceSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "list activities since")
	}
	defer rows.Close()

	return scanActivities(rows)
}

// ListActivitiesBetween returns activities with lowSeq <= seq <= highSeq
// (highSeq == 0 means unbounded).
func ListActivitiesBetween(ctx context.Context, runID string, lowSeq, highSeq int64) ([]domain.Activity, error) {
	conn := MustGetPooledSession()
	defer conn.Release()

	var rows pgx.Rows
	var err error
	if highSeq > 0 {
		rows, err = conn.Query(ctx, `SELECT run_id, seq, kind, payload, created_at FROM activities WHERE run_id = $1 AND seq >= $2 AND seq <= $3 ORDER BY seq ASC`, runID, lowSeq, highSeq)
	} else {
		rows, err = conn.Query(ctx, `SELECT run_id, seq, kind, payload, created_at FROM activities WHERE run_id = $1 AND seq >= $2 ORDER BY seq ASC`, runID, lowSeq)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "list activities between")
	}
	defer rows.Close()

	return scanActivities(rows)
}

func scanActivities(rows pgx.Rows) ([]domain.Activity, error) {
	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var kind string
		var payloadJSON []byte
		if err := rows.Scan(&a.RunID, &a.Seq, &kind, &payloadJSON, &a.Timestamp); err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "scan activity")
		}
		a.Kind = domain.ActivityKind(kind)
		if len(payloadJSON) > 0 {
			_ = json.Unmarshal(payloadJSON, &a.Payload)
		}
		out = append(out, a)
	}
	return out, nil
}

// SweepStaleRuns finds runs still in status=running whose updated_at is
// older than olderThan and fails them. It exists for crash recovery: a
// process that dies mid-run leaves its row stuck in running forever, since
// only that process's own goroutine would otherwise ever write its
// terminal status (invariant 4). Returns the ids it transitioned.
func SweepStaleRuns(ctx context.Context, olderThan time.Duration) ([]string, error) {
	conn := MustGetPooledSession()
	defer conn.Release()

	cutoff := time.Now().Add(-olderThan)
	rows, err := conn.Query(ctx, `SELECT id FROM runs WHERE status = $1 AND updated_at < $2`, string(domain.StatusRunning), cutoff)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "query stale runs")
	}
	var staleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errs.Wrap(errs.KindInternal, err, "scan stale run id")
		}
		staleIDs = append(staleIDs, id)
	}
	rows.Close()

	var swept []string
	for _, id := range staleIDs {
		if err := UpdateStatus(ctx, id, domain.StatusFailed, string(errs.KindRunTimeout), "run orphaned by a process that stopped updating it"); err != nil {
			continue
		}
		if _, err := AppendActivity(ctx, id, domain.ActivityRunFailed, map[string]interface{}{
			"errorKind": string(errs.KindRunTimeout), "message": "swept as orphaned",
		}); err != nil {
			logger.Warn("failed to append swept-orphan activity", zap.String("runId", id))
		}
		swept = append(swept, id)
	}
	return swept, nil
}
