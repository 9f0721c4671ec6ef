package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sovereign-voice/commandplane/internal/audit"
	"github.com/sovereign-voice/commandplane/internal/circuitbreaker"
	"github.com/sovereign-voice/commandplane/internal/commitsm"
	"github.com/sovereign-voice/commandplane/internal/conversation"
	"github.com/sovereign-voice/commandplane/internal/crypto"
	"github.com/sovereign-voice/commandplane/internal/dispatch"
	"github.com/sovereign-voice/commandplane/internal/guardrails"
	"github.com/sovereign-voice/commandplane/internal/identity"
	"github.com/sovereign-voice/commandplane/internal/metrics"
	"github.com/sovereign-voice/commandplane/internal/mio"
	"github.com/sovereign-voice/commandplane/internal/pipeline"
	"github.com/sovereign-voice/commandplane/internal/presence"
	"github.com/sovereign-voice/commandplane/internal/ratelimit"
	"github.com/sovereign-voice/commandplane/internal/session"
	"github.com/sovereign-voice/commandplane/internal/storage"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second

	defaultTenantID = "default"
)

// buildCheckOrigin returns a CheckOrigin function gated on the deployment
// environment, matching the teacher's fabric.buildCheckOrigin: in prod,
// only origins in allowed are accepted; otherwise every origin is
// allowed.
func buildCheckOrigin(env string, allowed []string) func(r *http.Request) bool {
	if env == "prod" && len(allowed) > 0 && !(len(allowed) == 1 && allowed[0] == "*") {
		set := make(map[string]bool, len(allowed))
		for _, o := range allowed {
			set[strings.TrimSpace(o)] = true
		}
		return func(r *http.Request) bool {
			return set[r.Header.Get("Origin")]
		}
	}
	if env == "prod" {
		slog.Warn("gateway: no allowed_origins configured in prod, allowing all origins")
	}
	return func(r *http.Request) bool { return true }
}

// STTProvider transcribes streamed audio. Out of scope for this
// repository (explicit Non-goal); a nil provider means AUDIO_CHUNK
// messages are accepted and rate-limited but never transcribed.
type STTProvider interface {
	Transcribe(ctx context.Context, sessionID string, chunk []byte, final bool) (text string, isFinal bool, err error)
}

// TTSProvider synthesizes speech from text. Out of scope for this
// repository; a nil provider means TTS_AUDIO is never emitted.
type TTSProvider interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Deps carries every collaborator the gateway wires together. Every
// field mirrors a package whose full implementation lives elsewhere in
// this repository; the gateway's only job is orchestration and protocol
// framing, matching spec §4.1's description of the gateway as a thin
// duplex channel over the mandate pipeline.
type Deps struct {
	Sessions      *session.Manager
	Presence      *presence.Engine
	Conversations *conversation.Registry

	SSOValidator *identity.SSOValidator
	LegacyIssuer *identity.LegacyIssuer
	ServerEnv    string

	FragmentAnalyzer   *pipeline.FragmentAnalyzer
	Hypothesizer       *pipeline.Hypothesizer
	L2Verifier         *pipeline.Verifier
	QCSentry           *pipeline.QCSentry
	DimensionExtractor *pipeline.DimensionExtractor
	Dimensions         *pipeline.DimensionRegistry
	Skills             *pipeline.SkillCatalog

	Signer      *crypto.Signer
	MIOVerifier *mio.Verifier
	Dispatcher  *dispatch.Dispatcher
	Commits     commitsm.Repository
	Store       *storage.Store

	RateLimiter *ratelimit.Limiter
	Breakers    *circuitbreaker.PipelineCircuitBreakers
	Audit       *audit.Logger
	Metrics     *metrics.Metrics

	AllowedOrigins []string

	STT STTProvider
	TTS TTSProvider

	Logger *slog.Logger
}

// Gateway is the Session Gateway (spec §4.1): one full-duplex WebSocket
// channel per connected client, and the wiring point for every other
// subsystem in this repository.
type Gateway struct {
	deps Deps

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*clientConn // sessionID -> connection
}

// New builds a Gateway over deps.
func New(deps Deps) *Gateway {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Gateway{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     buildCheckOrigin(deps.ServerEnv, deps.AllowedOrigins),
		},
		conns: make(map[string]*clientConn),
	}
}

// clientConn is one authenticated connection's mutable state: the socket
// itself, a serialized writer, and the in-flight draft bookkeeping
// EXECUTE_REQUEST consults.
type clientConn struct {
	gw   *Gateway
	conn *websocket.Conn

	writeMu sync.Mutex

	sessionID          string
	userID             string
	deviceID           string
	tenantID           string
	subscriptionStatus string

	draftsMu sync.Mutex
	drafts   map[string]*draftState
}

// draftState is one capture's pipeline output, held in memory between
// DRAFT_UPDATE and the matching EXECUTE_REQUEST.
type draftState struct {
	draftID     string
	transcript  string
	l1          pipeline.L1Draft
	l2          pipeline.L2Verdict
	guard       guardrails.Check
	skillMatch  pipeline.SkillMatch
	topology    pipeline.Topology
	commitID    string
}

// Broadcast pushes message to sessionID's connection if one is currently
// attached. Delivery is best-effort (spec §4.1: "state is independently
// persisted so reconnect can reconstruct pipeline progress") — a missing
// connection is not an error.
func (g *Gateway) Broadcast(sessionID string, msgType MessageType, payload interface{}) {
	g.mu.RLock()
	c, ok := g.conns[sessionID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.send(msgType, payload); err != nil {
		g.deps.Logger.Warn("gateway: broadcast failed", "sessionID", sessionID, "type", msgType, "error", err)
	}
}

// HandleWebSocket is the HTTP handler mounted at the gateway's WS
// endpoint (cmd/gateway wires it to gorilla/mux).
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.deps.Logger.Warn("gateway: upgrade failed", "error", err)
		return
	}
	c := &clientConn{gw: g, conn: conn, drafts: make(map[string]*draftState)}
	go c.run()
}

func (c *clientConn) send(msgType MessageType, payload interface{}) error {
	env, err := newEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *clientConn) sendError(code ErrorCode, message string) {
	_ = c.send(MsgError, ErrorPayload{Message: message, Code: code})
}

// run drives one connection end to end: ping keepalive, AUTH-first
// handshake, then the message loop (spec §4.1 steps 1-4).
func (c *clientConn) run() {
	g := c.gw
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.writeMu.Lock()
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	if !c.authenticate() {
		return
	}

	g.mu.Lock()
	g.conns[c.sessionID] = c
	g.mu.Unlock()
	if g.deps.Metrics != nil {
		g.deps.Metrics.SetActiveSessions(g.deps.Sessions.Count())
	}

	defer c.terminate("connection closed")

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.deps.Logger.Info("gateway: ws error", "sessionID", c.sessionID, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			g.deps.Logger.Warn("gateway: malformed json", "sessionID", c.sessionID)
			continue
		}

		if res := g.deps.RateLimiter.Check(ratelimit.BucketWSMessages, c.sessionID); !res.Allowed {
			if g.deps.Metrics != nil {
				g.deps.Metrics.RecordRateLimitRejected(string(ratelimit.BucketWSMessages))
			}
			c.sendError(ErrCodeRateLimited, "too many messages")
			continue
		}

		c.dispatchMessage(env)
	}
}

// dispatchMessage routes one inbound envelope to its handler, catching
// everything at this boundary so no handler panic or error ever
// propagates out of the connection loop (spec §9 "Propagation").
func (c *clientConn) dispatchMessage(env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.gw.deps.Logger.Error("gateway: handler panic", "sessionID", c.sessionID, "type", env.Type, "panic", r)
			c.sendError(ErrCodeInternal, "internal error")
		}
	}()

	switch env.Type {
	case MsgHeartbeat:
		c.handleHeartbeat(env)
	case MsgAudioChunk:
		c.handleAudioChunk(env)
	case MsgTextInput:
		c.handleTextInput(env)
	case MsgExecuteRequest:
		c.handleExecuteRequest(env)
	case MsgCancel:
		c.handleCancel(env)
	default:
		c.sendError(ErrCodeUnknownMsg, "unknown message type: "+string(env.Type))
	}
}

// authenticate runs spec §4.1 steps 1-3: the first message must be AUTH,
// SSO validation is tried before the legacy fallback, and success creates
// a Session and emits AUTH_OK.
func (c *clientConn) authenticate() bool {
	g := c.gw

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return false
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != MsgAuth {
		c.sendError(ErrCodeAuth, "first message must be AUTH")
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4001, "protocol error"), time.Now().Add(writeWait))
		return false
	}

	var payload AuthPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.failAuth("malformed AUTH payload", "PROTOCOL_ERROR")
		return false
	}

	if res := g.deps.RateLimiter.Check(ratelimit.BucketAuthAttempts, payload.DeviceID); !res.Allowed {
		c.failAuth("too many authentication attempts", "RATE_LIMITED")
		return false
	}

	var (
		userID             string
		tenantID           = defaultTenantID
		subscriptionStatus = "ACTIVE"
		viaSSO             bool
	)

	if claims, err := g.deps.SSOValidator.Validate(payload.Token); err == nil {
		userID = claims.UserID
		tenantID = claims.TenantID
		subscriptionStatus = claims.SubscriptionStatus
		viaSSO = true
	} else if claims, legacyErr := g.deps.LegacyIssuer.Validate(payload.Token, g.deps.ServerEnv); legacyErr == nil {
		if claims.DeviceID != payload.DeviceID {
			c.failAuth("device ID mismatch", "AUTH_ERROR")
			return false
		}
		userID = claims.UserID
	} else {
		c.failAuth(legacyErr.Error(), "AUTH_ERROR")
		return false
	}

	sess := g.deps.Sessions.Create(session.NewSessionParams{
		UserID:        userID,
		DeviceID:      payload.DeviceID,
		Env:           g.deps.ServerEnv,
		ClientVersion: payload.ClientVersion,
	})

	c.sessionID = sess.ID
	c.userID = userID
	c.deviceID = payload.DeviceID
	c.tenantID = tenantID
	c.subscriptionStatus = subscriptionStatus

	if g.deps.Conversations.Migrate(userID, sess.ID) {
		g.deps.Logger.Info("gateway: conversation state migrated on reconnect", "userID", userID, "sessionID", sess.ID)
	}

	if g.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = g.deps.Store.UpsertSession(ctx, storage.SessionRecord{
			ID: sess.ID, UserID: userID, DeviceID: payload.DeviceID, Env: g.deps.ServerEnv,
			ClientVersion: payload.ClientVersion, CreatedAt: sess.CreatedAt,
			LastHeartbeatAt: sess.CreatedAt, Active: true,
		})
		cancel()
	}

	if err := c.send(MsgAuthOK, AuthOKPayload{
		SessionID:           sess.ID,
		UserID:              userID,
		HeartbeatIntervalMS: 5000,
	}); err != nil {
		return false
	}

	if g.deps.Audit != nil {
		g.deps.Audit.Log(context.Background(), audit.EventSessionCreated, sess.ID, userID, map[string]interface{}{
			"deviceID": payload.DeviceID, "sso": viaSSO, "subscription": subscriptionStatus,
		})
	}
	if g.deps.Metrics != nil {
		g.deps.Metrics.RecordAuthAttempt(authMethod(viaSSO), "success")
	}
	return true
}

func authMethod(viaSSO bool) string {
	if viaSSO {
		return "sso"
	}
	return "legacy"
}

func (c *clientConn) failAuth(reason, code string) {
	_ = c.send(MsgAuthFail, AuthFailPayload{Reason: reason, Code: code})
	if c.gw.deps.Audit != nil {
		c.gw.deps.Audit.Log(context.Background(), audit.EventAuthFailed, "", "", map[string]interface{}{"reason": reason})
	}
	if c.gw.deps.Metrics != nil {
		c.gw.deps.Metrics.RecordAuthAttempt("unknown", "failure")
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(4003, "auth failed"), time.Now().Add(writeWait))
}

// terminate runs disconnect cleanup: deactivate the session, purge
// non-resumable mandates, drop the connection from the active map, and
// audit the termination (spec §4.1, SPEC_FULL.md supplement 6).
func (c *clientConn) terminate(reason string) {
	if c.sessionID == "" {
		return
	}
	g := c.gw

	g.mu.Lock()
	if g.conns[c.sessionID] == c {
		delete(g.conns, c.sessionID)
	}
	g.mu.Unlock()

	if sess, err := g.deps.Sessions.Get(c.sessionID); err == nil {
		sess.Deactivate()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if g.deps.Store != nil {
		_ = g.deps.Store.DeactivateSession(ctx, c.sessionID)
		if n, err := g.deps.Store.CleanupSessionMandates(ctx, c.sessionID); err == nil && n > 0 {
			g.deps.Logger.Info("gateway: purged non-resumable mandates", "sessionID", c.sessionID, "count", n)
		}
	}
	g.deps.Dimensions.Cleanup(c.sessionID)

	if g.deps.Audit != nil {
		g.deps.Audit.Log(ctx, audit.EventSessionTerminated, c.sessionID, c.userID, map[string]interface{}{"reason": reason})
	}
	if g.deps.Metrics != nil {
		g.deps.Metrics.SetActiveSessions(g.deps.Sessions.Count())
	}
}
