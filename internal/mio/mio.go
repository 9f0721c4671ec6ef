// Package mio implements the Master Intent Object: its schema, canonical
// signing payload, and the VerifyForExecution gate that stands between any
// inferred intent and the dispatcher (spec §3, §4.12, §9/§17 "No execution
// without valid MIO"). Grounded on original_source's backend/schemas/mio.py
// (field shape, enums) and backend/mio/{signer,ttl,verify}.py (the six
// ordered checks), using this repo's own internal/crypto.Signer,
// internal/replay.Store, and internal/presence.Engine in place of the
// Python module-level singletons.
package mio

import (
	"encoding/json"
	"time"
)

// ActionClass is the closed set of action categories a MIO may authorize
// (spec §3), grounded on schemas/mio.py's ActionClass enum.
type ActionClass string

const (
	ActionCommSend      ActionClass = "COMM_SEND"
	ActionSchedModify   ActionClass = "SCHED_MODIFY"
	ActionInfoRetrieve  ActionClass = "INFO_RETRIEVE"
	ActionDocEdit       ActionClass = "DOC_EDIT"
	ActionFinTrans      ActionClass = "FIN_TRANS"
	ActionSysConfig     ActionClass = "SYS_CONFIG"
	ActionDraftOnly     ActionClass = "DRAFT_ONLY"
)

// RiskTier is the escalating latch requirement a MIO declares (spec §3),
// grounded on schemas/mio.py's RiskTier enum. Numeric order matters:
// VerifyForExecution gates touch/biometric checks on tier thresholds.
type RiskTier int

const (
	RiskNoLatch       RiskTier = 0
	RiskVoiceLatch    RiskTier = 1
	RiskPhysicalLatch RiskTier = 2
	RiskBiometric     RiskTier = 3
)

// DefaultTTLSeconds is the MIO freshness window (spec §9.3: "TTL is SHORT,
// 120 seconds default").
const DefaultTTLSeconds = 120

// Header carries identity and freshness metadata for a MIO.
type Header struct {
	MIOID      string    `json:"mio_id"`
	Timestamp  time.Time `json:"timestamp"`
	SignerID   string    `json:"signer_id"`
	TTLSeconds int       `json:"ttl_seconds"`
}

// Constraints declares the latch requirements execution must satisfy.
type Constraints struct {
	Tier                  RiskTier `json:"tier"`
	PhysicalLatchRequired bool     `json:"physical_latch_required"`
	BiometricRequired     bool     `json:"biometric_required"`
}

// IntentEnvelope carries the action this MIO authorizes.
type IntentEnvelope struct {
	Action      string                 `json:"action"`
	ActionClass ActionClass            `json:"action_class"`
	Params      map[string]interface{} `json:"params"`
	Constraints Constraints            `json:"constraints"`
}

// Grounding carries the provenance chain a reviewer or auditor can use to
// trace this MIO back to the transcript and pipeline stages that produced
// it (spec §3).
type Grounding struct {
	TranscriptHash   string   `json:"transcript_hash"`
	L1Hash           string   `json:"l1_hash"`
	L2AuditHash      string   `json:"l2_audit_hash"`
	MemoryNodeIDs    []string `json:"memory_node_ids"`
	ProvenanceFlags  []string `json:"provenance_flags"`
}

// SecurityProof carries the touch/signature material collected at
// confirmation time.
type SecurityProof struct {
	TouchEventToken string `json:"touch_event_token"`
	Signature       string `json:"signature"`
}

// MasterIntentObject is the signed, replay-protected unit of authorization
// for every side-effecting action (spec §3, §9).
type MasterIntentObject struct {
	Header    Header         `json:"header"`
	Envelope  IntentEnvelope `json:"envelope"`
	Grounding Grounding      `json:"grounding"`
	Proof     SecurityProof  `json:"security_proof"`
}

// canonicalPayload is the subset of fields signed over: header, envelope,
// and grounding, but never security_proof.signature itself, matching
// mio/signer.py's sign_mio which serializes the whole dict before the
// signature field is attached to it by the caller.
type canonicalPayload struct {
	Header    Header         `json:"header"`
	Envelope  IntentEnvelope `json:"envelope"`
	Grounding Grounding      `json:"grounding"`
}

// CanonicalJSON returns the deterministic, sorted-key JSON payload signed
// and verified for a MIO. Go's encoding/json already emits struct fields in
// declaration order and map keys sorted, so no extra canonicalization pass
// is needed beyond using this fixed struct shape (matching the
// sort_keys=True behavior of json.dumps in mio/signer.py).
func (m MasterIntentObject) CanonicalJSON() ([]byte, error) {
	return json.Marshal(canonicalPayload{Header: m.Header, Envelope: m.Envelope, Grounding: m.Grounding})
}
