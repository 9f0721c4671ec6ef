package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PipelineStageNames is the fixed 10-stage progress ladder a mandate
// climbs from capture to delivery (SPEC_FULL.md supplement, grounded on
// original_source's backend/dispatcher/mandate_dispatch.py STAGE_NAMES).
// Used to reconstruct PIPELINE_STAGE events for a reconnecting client
// that missed the live broadcast.
var PipelineStageNames = map[int]string{
	0: "Intent captured",
	1: "Enriched with Digital Self",
	2: "Dimensions extracted",
	3: "Mandate created",
	4: "Oral approval received",
	5: "Agents assigned",
	6: "Skills & tools defined",
	7: "Authorization granted",
	8: "OpenClaw executing",
	9: "Results delivered",
}

// SavePipelineProgress upserts the current stage for a draft, matching
// broadcast_stage's db.pipeline_progress.update_one persistence half
// (the WS broadcast half lives in internal/gateway).
func (s *Store) SavePipelineProgress(ctx context.Context, draftID, sessionID string, stageIndex int) error {
	name, ok := PipelineStageNames[stageIndex]
	if !ok {
		name = fmt.Sprintf("Stage %d", stageIndex)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_progress (draft_id, session_id, stage_index, stage_name, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (draft_id) DO UPDATE SET stage_index = $3, stage_name = $4, updated_at = $5, session_id = $2
	`, draftID, sessionID, stageIndex, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage: save pipeline progress: %w", err)
	}
	return nil
}

// ProgressSnapshot is the last known pipeline stage for a draft.
type ProgressSnapshot struct {
	DraftID    string
	SessionID  string
	StageIndex int
	StageName  string
	UpdatedAt  time.Time
}

// LatestProgressForSession returns the most recently updated pipeline
// progress row for a session, used to replay PIPELINE_STAGE state to a
// client that reconnects mid-execution.
func (s *Store) LatestProgressForSession(ctx context.Context, sessionID string) (ProgressSnapshot, bool, error) {
	var p ProgressSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT draft_id, session_id, stage_index, stage_name, updated_at
		FROM pipeline_progress WHERE session_id = $1 ORDER BY updated_at DESC LIMIT 1
	`, sessionID).Scan(&p.DraftID, &p.SessionID, &p.StageIndex, &p.StageName, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ProgressSnapshot{}, false, nil
	}
	if err != nil {
		return ProgressSnapshot{}, false, fmt.Errorf("storage: latest progress: %w", err)
	}
	return p, true, nil
}
