package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/sovereign-voice/commandplane/internal/prompting"
)

// SavePromptSnapshot implements prompting.Snapshotter (SPEC_FULL.md
// supplement 2), persisting a rendered artifact so a later audit can find
// "a persisted prompt snapshot with a matching promptID" for any call
// site's output.
func (s *Store) SavePromptSnapshot(ctx context.Context, sessionID, callSiteID string, purpose prompting.Purpose, artifact prompting.Artifact) error {
	rendered, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("storage: marshal prompt artifact: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prompt_snapshots (snapshot_id, session_id, call_site, purpose, rendered_prompt, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, uuid.NewString(), sessionID, callSiteID, string(purpose), rendered, artifact.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: save prompt snapshot: %w", err)
	}
	return nil
}
