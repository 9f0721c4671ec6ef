// Package gateway implements the Session Gateway (spec §4.1): the single
// full-duplex WebSocket channel a client speaks to, and the wiring point
// for every other package in this repository. Grounded on the teacher's
// fabric.Hub.HandleWebSocket/handleSpokeConnection (upgrader, origin
// check, ping/pong keepalive, per-connection read loop) and
// original_source's backend/gateway/ws_server.py (AUTH-first protocol,
// message type dispatch, execute-gate ordering), generalized from the
// teacher's hub-routing domain and the original's STT/TTS-bound Batch 1
// scope to the full mandate pipeline this repository implements.
package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType is one of the closed set of envelope types spec §6 names.
// Protocol version v1.
type MessageType string

const (
	// Client -> server
	MsgAuth           MessageType = "AUTH"
	MsgHeartbeat      MessageType = "HEARTBEAT"
	MsgAudioChunk     MessageType = "AUDIO_CHUNK"
	MsgTextInput      MessageType = "TEXT_INPUT"
	MsgExecuteRequest MessageType = "EXECUTE_REQUEST"
	MsgCancel         MessageType = "CANCEL"

	// Server -> client
	MsgAuthOK             MessageType = "AUTH_OK"
	MsgAuthFail           MessageType = "AUTH_FAIL"
	MsgHeartbeatAck       MessageType = "HEARTBEAT_ACK"
	MsgTranscriptPartial  MessageType = "TRANSCRIPT_PARTIAL"
	MsgTranscriptFinal    MessageType = "TRANSCRIPT_FINAL"
	MsgDraftUpdate        MessageType = "DRAFT_UPDATE"
	MsgTTSAudio           MessageType = "TTS_AUDIO"
	MsgPipelineStage      MessageType = "PIPELINE_STAGE"
	MsgExecuteBlocked     MessageType = "EXECUTE_BLOCKED"
	MsgExecuteOK          MessageType = "EXECUTE_OK"
	MsgError              MessageType = "ERROR"
	MsgSessionTerminated  MessageType = "SESSION_TERMINATED"
)

// Envelope is the wire shape of every message in either direction
// (spec §6: "{type, id, timestamp, payload}").
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func newEnvelope(msgType MessageType, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, ID: uuid.NewString(), Timestamp: time.Now().UTC(), Payload: raw}, nil
}

// AuthPayload is the AUTH message body.
type AuthPayload struct {
	Token         string `json:"token"`
	DeviceID      string `json:"deviceID"`
	ClientVersion string `json:"clientVersion"`
}

// AuthOKPayload is the AUTH_OK response body.
type AuthOKPayload struct {
	SessionID           string `json:"sessionID"`
	UserID              string `json:"userID"`
	HeartbeatIntervalMS int    `json:"heartbeatIntervalMs"`
}

// AuthFailPayload is the AUTH_FAIL response body.
type AuthFailPayload struct {
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

// HeartbeatPayload is the HEARTBEAT message body.
type HeartbeatPayload struct {
	SessionID string  `json:"sessionID"`
	Seq       int     `json:"seq"`
	ClientTS  float64 `json:"clientTs"`
}

// HeartbeatAckPayload is the HEARTBEAT_ACK response body.
type HeartbeatAckPayload struct {
	Seq      int     `json:"seq"`
	ServerTS float64 `json:"serverTs"`
}

// TextInputPayload is the TEXT_INPUT message body: already-final text
// (no STT pass needed), e.g. a typed or pre-transcribed utterance.
type TextInputPayload struct {
	Text string `json:"text"`
}

// AudioChunkPayload is the AUDIO_CHUNK message body. STT itself is out of
// scope for this repository (an explicit Non-goal); the gateway accepts
// chunks, rate-limits them, and hands them to an injected STTProvider if
// one is configured.
type AudioChunkPayload struct {
	SequenceNum int    `json:"sequenceNum"`
	Data        []byte `json:"data"`
	Final       bool   `json:"final"`
}

// TranscriptPayload carries partial or final transcript text.
type TranscriptPayload struct {
	SessionID string `json:"sessionID"`
	Text      string `json:"text"`
}

// DraftUpdatePayload reports the current leading hypothesis for a
// capture in progress.
type DraftUpdatePayload struct {
	SessionID    string   `json:"sessionID"`
	DraftID      string   `json:"draftID"`
	ActionClass  string   `json:"actionClass"`
	Confidence   float64  `json:"confidence"`
	Hypothesis   string   `json:"hypothesis"`
	MissingDims  []string `json:"missingDims,omitempty"`
	Clarifying   string   `json:"clarifyingQuestion,omitempty"`
}

// TTSAudioPayload carries synthesized speech audio. Synthesis is out of
// scope for this repository; the field is populated only when a
// TTSProvider is configured.
type TTSAudioPayload struct {
	SessionID string `json:"sessionID"`
	Data      []byte `json:"data"`
}

// PipelineStagePayload reports progress through the ten-stage mandate
// pipeline ladder (storage.PipelineStageNames), spec §6.
type PipelineStagePayload struct {
	StageID     string `json:"stageID"`
	StageIndex  int    `json:"stageIndex"`
	TotalStages int    `json:"totalStages"`
	Status      string `json:"status"` // active | done | failed
	StageName   string `json:"stageName"`
	SubStatus   string `json:"subStatus,omitempty"`
	Progress    int    `json:"progress"`
	ExecutionID string `json:"executionID"`
}

// ExecuteRequestPayload is the EXECUTE_REQUEST message body.
type ExecuteRequestPayload struct {
	SessionID      string `json:"sessionID"`
	DraftID        string `json:"draftID"`
	TouchToken     string `json:"touchToken,omitempty"`
	BiometricProof string `json:"biometricProof,omitempty"`
}

// ExecuteBlockedCode is the closed set of reasons an EXECUTE_REQUEST may
// be refused (spec §6).
type ExecuteBlockedCode string

const (
	CodePresenceStale      ExecuteBlockedCode = "PRESENCE_STALE"
	CodeSubscriptionInactive ExecuteBlockedCode = "SUBSCRIPTION_INACTIVE"
	CodeEnvGuard           ExecuteBlockedCode = "ENV_GUARD"
	CodeGuardrailViolation ExecuteBlockedCode = "GUARDRAIL_VIOLATION"
	CodeDraftNotFound      ExecuteBlockedCode = "DRAFT_NOT_FOUND"
	CodePipelineNotReady   ExecuteBlockedCode = "PIPELINE_NOT_READY"
)

// ExecuteBlockedPayload is the EXECUTE_BLOCKED response body.
type ExecuteBlockedPayload struct {
	Reason  string             `json:"reason"`
	Code    ExecuteBlockedCode `json:"code"`
	DraftID string             `json:"draftID,omitempty"`
}

// ExecuteOKPayload is the EXECUTE_OK response body.
type ExecuteOKPayload struct {
	DraftID    string `json:"draftID"`
	CommitID   string `json:"commitID"`
	DispatchID string `json:"dispatchID"`
}

// ErrorCode is the closed error taxonomy (spec §9).
type ErrorCode string

const (
	ErrCodeAuth         ErrorCode = "AUTH_ERROR"
	ErrCodeSession      ErrorCode = "SESSION_ERROR"
	ErrCodePresence     ErrorCode = "PRESENCE_ERROR"
	ErrCodeEnvGuard     ErrorCode = "ENV_GUARD_ERROR"
	ErrCodeDispatch     ErrorCode = "DISPATCH_BLOCKED"
	ErrCodePromptBypass ErrorCode = "PROMPT_BYPASS"
	ErrCodeUnknownMsg   ErrorCode = "UNKNOWN_MSG_TYPE"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// ErrorPayload is the ERROR response body.
type ErrorPayload struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
}

// SessionTerminatedPayload is the SESSION_TERMINATED response body.
type SessionTerminatedPayload struct {
	SessionID string `json:"sessionID"`
	Reason    string `json:"reason"`
}
