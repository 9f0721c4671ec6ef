package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sovereign-voice/commandplane/internal/audit"
	"github.com/sovereign-voice/commandplane/internal/commitsm"
	"github.com/sovereign-voice/commandplane/internal/dispatch"
	"github.com/sovereign-voice/commandplane/internal/guardrails"
	"github.com/sovereign-voice/commandplane/internal/intent"
	"github.com/sovereign-voice/commandplane/internal/mio"
	"github.com/sovereign-voice/commandplane/internal/pipeline"
	"github.com/sovereign-voice/commandplane/internal/presence"
	"github.com/sovereign-voice/commandplane/internal/ratelimit"
	"github.com/sovereign-voice/commandplane/internal/storage"
)

func (c *clientConn) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 20*time.Second)
}

// handleHeartbeat processes HEARTBEAT (spec §4.2): record liveness, ack
// with the server's own clock.
func (c *clientConn) handleHeartbeat(env Envelope) {
	var payload HeartbeatPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.sendError(ErrCodeSession, "malformed HEARTBEAT payload")
		return
	}
	if err := c.gw.deps.Presence.RecordHeartbeat(c.sessionID); err != nil {
		if errors.Is(err, presence.ErrUnknownSession) {
			c.sendError(ErrCodeSession, "unknown session")
			return
		}
		c.sendError(ErrCodePresence, err.Error())
		return
	}
	if sess, err := c.gw.deps.Sessions.Get(c.sessionID); err == nil {
		ctx, cancel := c.ctx()
		_ = c.gw.deps.Store.UpsertSession(ctx, storage.SessionRecord{
			ID: sess.ID, UserID: sess.UserID, DeviceID: sess.DeviceID, Env: sess.Env,
			ClientVersion: sess.ClientVersion, CreatedAt: sess.CreatedAt,
			LastHeartbeatAt: time.Now().UTC(), HeartbeatSeq: payload.Seq, Active: true,
		})
		cancel()
	}
	_ = c.send(MsgHeartbeatAck, HeartbeatAckPayload{
		Seq:      payload.Seq,
		ServerTS: float64(time.Now().UnixMilli()) / 1000.0,
	})
}

// handleAudioChunk accepts streamed audio. Transcription itself is an
// explicit Non-goal; a configured STTProvider, if any, does the work and
// the gateway only frames its output as TRANSCRIPT_PARTIAL/FINAL.
func (c *clientConn) handleAudioChunk(env Envelope) {
	if res := c.gw.deps.RateLimiter.Check(ratelimit.BucketAudioChunks, c.sessionID); !res.Allowed {
		c.sendError(ErrCodeSession, "too many audio chunks")
		return
	}
	var payload AudioChunkPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.sendError(ErrCodeSession, "malformed AUDIO_CHUNK payload")
		return
	}
	if c.gw.deps.STT == nil {
		return
	}
	ctx, cancel := c.ctx()
	defer cancel()
	text, final, err := c.gw.deps.STT.Transcribe(ctx, c.sessionID, payload.Data, payload.Final)
	if err != nil {
		c.gw.deps.Logger.Warn("gateway: transcription failed", "sessionID", c.sessionID, "error", err)
		return
	}
	if text == "" {
		return
	}
	if final {
		_ = c.send(MsgTranscriptFinal, TranscriptPayload{SessionID: c.sessionID, Text: text})
		c.ingestUtterance(text)
	} else {
		_ = c.send(MsgTranscriptPartial, TranscriptPayload{SessionID: c.sessionID, Text: text})
	}
}

// handleTextInput accepts already-final text, bypassing STT entirely
// (spec §4.1 supplement: typed input takes the same downstream path as a
// final transcript).
func (c *clientConn) handleTextInput(env Envelope) {
	var payload TextInputPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.sendError(ErrCodeSession, "malformed TEXT_INPUT payload")
		return
	}
	_ = c.send(MsgTranscriptFinal, TranscriptPayload{SessionID: c.sessionID, Text: payload.Text})
	c.ingestUtterance(payload.Text)
}

// ingestUtterance runs one finalized utterance through the Intent Router
// and, for intent fragments, the Fragment Analyzer and Hypothesizer
// (spec §4.4-§4.6). Mode-control commands and noise never reach the
// mandate pipeline.
func (c *clientConn) ingestUtterance(text string) {
	g := c.gw
	decision := intent.RouteUtterance(text)

	switch decision.Route {
	case intent.RouteNoise, intent.RouteInterruption:
		return
	case intent.RouteCommand:
		c.handleModeCommand(decision.NormalizedCommand)
		return
	}

	state := g.deps.Conversations.GetOrCreate(c.sessionID, c.userID, "")

	ctx, cancel := c.ctx()
	defer cancel()

	analysis := g.deps.FragmentAnalyzer.Analyze(ctx, c.sessionID, c.userID, text)
	state.AddFragment(text, analysis.SubIntents, analysis.Confidence)

	dimState := g.deps.Dimensions.GetOrCreate(c.sessionID)
	g.deps.DimensionExtractor.Extract(ctx, c.sessionID, c.userID, state.CombinedTranscript, dimState)

	draft := g.deps.Hypothesizer.Run(ctx, c.sessionID, c.userID, state.CombinedTranscript)
	top, ok := draft.Top()
	if !ok {
		return
	}

	ds := &draftState{
		draftID:    draft.DraftID,
		transcript: state.CombinedTranscript,
		l1:         draft,
	}
	c.draftsMu.Lock()
	c.drafts[draft.DraftID] = ds
	c.draftsMu.Unlock()

	if g.deps.Store != nil {
		_ = g.deps.Store.SaveMandate(ctx, storage.Mandate{
			DraftID:   draft.DraftID,
			SessionID: c.sessionID,
			UserID:    c.userID,
			State:     storage.MandateDimensionsExtracted,
			Intent:    top.Hypothesis,
		})
		_ = g.deps.Store.SavePipelineProgress(ctx, draft.DraftID, c.sessionID, 2)
	}
	c.sendPipelineStage(draft.DraftID, 2, "active", "")

	_ = c.send(MsgDraftUpdate, DraftUpdatePayload{
		SessionID:   c.sessionID,
		DraftID:     draft.DraftID,
		ActionClass: string(top.ActionClass),
		Confidence:  top.Confidence,
		Hypothesis:  top.Hypothesis,
	})
}

func (c *clientConn) handleModeCommand(cmd intent.Command) {
	switch cmd {
	case intent.CommandHold:
		c.gw.deps.Conversations.GetOrCreate(c.sessionID, c.userID, "").SetPhase("HELD")
	case intent.CommandResume:
		c.gw.deps.Conversations.GetOrCreate(c.sessionID, c.userID, "").SetPhase("ACCUMULATING")
	case intent.CommandCancel, intent.CommandKill:
		c.handleCancel(Envelope{})
	}
}

// handleCancel resets conversation state for the session, discarding any
// in-flight draft (spec §4.3 cancellation path).
func (c *clientConn) handleCancel(_ Envelope) {
	c.gw.deps.Conversations.ResetSession(c.sessionID)
	c.draftsMu.Lock()
	c.drafts = make(map[string]*draftState)
	c.draftsMu.Unlock()
}

func (c *clientConn) sendPipelineStage(draftID string, stageIndex int, status, sub string) {
	name := storage.PipelineStageNames[stageIndex]
	_ = c.send(MsgPipelineStage, PipelineStagePayload{
		StageID:     name,
		StageIndex:  stageIndex,
		TotalStages: len(storage.PipelineStageNames),
		Status:      status,
		StageName:   name,
		SubStatus:   sub,
		ExecutionID: draftID,
	})
}

// handleExecuteRequest runs the full execution gate sequence (spec §4.1
// rule "no execution without an explicit execute_request", §4.9-§4.14):
// subscription, presence, guardrails, QC, MIO signing, commit state
// machine, and dispatch — in that order, matching
// original_source/backend/gateway/ws_server.py's _handle_execute_request
// gate ordering, extended past its Batch-1 stub into this repo's full
// pipeline.
func (c *clientConn) handleExecuteRequest(env Envelope) {
	g := c.gw

	if res := g.deps.RateLimiter.Check(ratelimit.BucketExecuteRequests, c.userID); !res.Allowed {
		c.blockExecute("", CodePipelineNotReady, "too many execute attempts")
		return
	}

	var payload ExecuteRequestPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.sendError(ErrCodeSession, "malformed EXECUTE_REQUEST payload")
		return
	}

	c.draftsMu.Lock()
	ds, ok := c.drafts[payload.DraftID]
	c.draftsMu.Unlock()
	if !ok {
		c.blockExecute(payload.DraftID, CodeDraftNotFound, "no draft pending for that ID")
		return
	}

	if c.subscriptionStatus != "ACTIVE" {
		g.deps.Audit.Log(context.Background(), audit.EventSubscriptionInactive, c.sessionID, c.userID, map[string]interface{}{"draftID": payload.DraftID})
		c.blockExecute(payload.DraftID, CodeSubscriptionInactive, "subscription is not active")
		return
	}

	if !g.deps.Presence.CheckPresence(c.sessionID) {
		g.deps.Audit.Log(context.Background(), audit.EventPresenceStale, c.sessionID, c.userID, map[string]interface{}{"draftID": payload.DraftID})
		c.blockExecute(payload.DraftID, CodePresenceStale, "heartbeat is stale")
		return
	}

	ctx, cancel := c.ctx()
	defer cancel()

	top, ok := ds.l1.Top()
	if !ok {
		c.blockExecute(payload.DraftID, CodePipelineNotReady, "no leading hypothesis")
		return
	}

	dimState := g.deps.Dimensions.GetOrCreate(c.sessionID)
	check := guardrails.CheckGuardrails(ds.transcript, guardrails.Dimensions{
		Ambiguity:     dimState.BState.Ambiguity,
		EmotionalLoad: dimState.BState.EmotionalLoad,
	}, top.Confidence, true)
	ds.guard = check
	if check.Result != guardrails.ResultPass {
		g.deps.Audit.Log(ctx, audit.EventGuardrailBlocked, c.sessionID, c.userID, map[string]interface{}{
			"draftID": payload.DraftID, "result": check.Result, "reason": check.Reason,
		})
		c.blockExecute(payload.DraftID, CodeGuardrailViolation, check.Reason)
		return
	}

	l2 := g.deps.L2Verifier.Run(ctx, c.sessionID, c.userID, ds.transcript, nil, top.ActionClass, top.Confidence)
	ds.l2 = l2
	agree, reason := pipeline.CheckAgreement(top.ActionClass, top.Confidence, l2)
	if !agree {
		g.deps.Audit.Log(ctx, audit.EventL1L2ConflictRecorded, c.sessionID, c.userID, map[string]interface{}{
			"draftID": payload.DraftID, "reason": reason,
		})
		c.blockExecute(payload.DraftID, CodeGuardrailViolation, "L1/L2 disagreement: "+reason)
		return
	}

	qc := g.deps.QCSentry.Run(ctx, c.sessionID, c.userID, pipeline.QCInput{
		Transcript:    ds.transcript,
		IntentSummary: l2.CanonicalTarget,
	})
	if !qc.OverallPass {
		g.deps.Audit.Log(ctx, audit.EventQCBlocked, c.sessionID, c.userID, map[string]interface{}{
			"draftID": payload.DraftID, "reason": qc.BlockReason,
		})
		c.blockExecute(payload.DraftID, CodeGuardrailViolation, qc.BlockReason)
		return
	}

	match := g.deps.Skills.Match(l2.ActionClass, l2.CanonicalTarget, nil)
	ds.skillMatch = match
	ds.topology = pipeline.BuildTopology([]pipeline.SkillMatch{match})

	mioObj := mio.MasterIntentObject{
		Header: mio.Header{
			MIOID:      uuid.NewString(),
			Timestamp:  time.Now().UTC(),
			SignerID:   "gateway",
			TTLSeconds: mio.DefaultTTLSeconds,
		},
		Envelope: mio.IntentEnvelope{
			Action:      l2.CanonicalTarget,
			ActionClass: l2.ActionClass,
			Params:      map[string]interface{}{},
			Constraints: mio.Constraints{
				Tier:                  l2.RiskTier,
				PhysicalLatchRequired: l2.RiskTier >= mio.RiskPhysicalLatch,
				BiometricRequired:     l2.RiskTier >= mio.RiskBiometric,
			},
		},
		Grounding: mio.Grounding{
			L1Hash:      draftHash(ds.l1.DraftID),
			L2AuditHash: draftHash(l2.VerdictID),
		},
	}
	sigBytes, err := mio.Sign(g.deps.Signer, mioObj)
	if err != nil {
		c.blockExecute(payload.DraftID, CodePipelineNotReady, "failed to sign MIO")
		return
	}
	mioObj.Proof.Signature = base64.StdEncoding.EncodeToString(sigBytes)
	g.deps.Audit.Log(ctx, audit.EventMIOSigned, c.sessionID, c.userID, map[string]interface{}{"mioID": mioObj.Header.MIOID})

	commitID := uuid.NewString()
	commit := commitsm.NewCommit(commitID, c.sessionID, payload.DraftID, "", l2.CanonicalTarget, string(l2.ActionClass), nil, time.Now().UTC())
	created, _, err := g.deps.Commits.CreateCommit(commit)
	if err != nil {
		c.blockExecute(payload.DraftID, CodePipelineNotReady, "failed to create commit")
		return
	}
	ds.commitID = created.CommitID

	if _, err := g.deps.Commits.TransitionCommit(created.CommitID, commitsm.StatePendingConfirmation, "guardrails and QC passed", time.Now().UTC()); err != nil {
		c.blockExecute(payload.DraftID, CodePipelineNotReady, "commit transition failed")
		return
	}
	if _, err := g.deps.Commits.TransitionCommit(created.CommitID, commitsm.StateConfirmed, "execute_request received", time.Now().UTC()); err != nil {
		c.blockExecute(payload.DraftID, CodePipelineNotReady, "commit transition failed")
		return
	}
	if _, err := g.deps.Commits.TransitionCommit(created.CommitID, commitsm.StateDispatching, "dispatching", time.Now().UTC()); err != nil {
		c.blockExecute(payload.DraftID, CodePipelineNotReady, "commit transition failed")
		return
	}
	c.sendPipelineStage(payload.DraftID, 7, "active", "")

	record, err := g.deps.Dispatcher.Dispatch(ctx, dispatch.Request{
		MIO: mioObj,
		VerifyIn: mio.VerifyInput{
			Signature:      sigBytes,
			SessionID:      c.sessionID,
			DeviceID:       c.deviceID,
			TouchToken:     payload.TouchToken,
			BiometricProof: payload.BiometricProof,
		},
		TenantID: c.tenantID,
	})
	if err != nil {
		_, _ = g.deps.Commits.TransitionCommit(created.CommitID, commitsm.StateFailed, err.Error(), time.Now().UTC())
		c.blockExecuteFromDispatchErr(payload.DraftID, err)
		return
	}

	_, _ = g.deps.Commits.TransitionCommit(created.CommitID, commitsm.StateCompleted, "dispatched", time.Now().UTC())
	if g.deps.Store != nil {
		_ = g.deps.Store.DeleteMandate(ctx, payload.DraftID)
		_ = g.deps.Store.SavePipelineProgress(ctx, payload.DraftID, c.sessionID, 9)
	}
	c.sendPipelineStage(payload.DraftID, 9, "done", "")

	_ = c.send(MsgExecuteOK, ExecuteOKPayload{
		DraftID:    payload.DraftID,
		CommitID:   created.CommitID,
		DispatchID: record.DispatchID,
	})

	c.draftsMu.Lock()
	delete(c.drafts, payload.DraftID)
	c.draftsMu.Unlock()
}

func (c *clientConn) blockExecute(draftID string, code ExecuteBlockedCode, reason string) {
	_ = c.send(MsgExecuteBlocked, ExecuteBlockedPayload{Reason: reason, Code: code, DraftID: draftID})
}

func (c *clientConn) blockExecuteFromDispatchErr(draftID string, err error) {
	switch {
	case errors.Is(err, dispatch.ErrEnvMismatch):
		c.blockExecute(draftID, CodeEnvGuard, err.Error())
	case errors.Is(err, dispatch.ErrTenantNotFound), errors.Is(err, dispatch.ErrTenantNotActive):
		c.blockExecute(draftID, CodeSubscriptionInactive, err.Error())
	default:
		c.blockExecute(draftID, CodePipelineNotReady, err.Error())
	}
}

func draftHash(s string) string {
	return "sha256:" + s
}
