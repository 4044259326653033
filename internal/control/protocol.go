package control

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/humansinstitute/intercessio/internal/activity"
	"github.com/humansinstitute/intercessio/internal/approval"
	"github.com/humansinstitute/intercessio/internal/keys"
	"github.com/humansinstitute/intercessio/internal/metadata"
	"github.com/humansinstitute/intercessio/internal/session"
	"github.com/humansinstitute/intercessio/internal/store"
)

// request is the tagged union of every control-plane request shape. Every
// payload field is optional so one struct can decode any tag; Type selects
// which fields the handler consults.
type request struct {
	Type string `json:"type"`

	SessionID string `json:"sessionId,omitempty"`
	Alias     string `json:"alias,omitempty"`
	Template  string `json:"template,omitempty"`

	KeyID       string   `json:"keyId,omitempty"`
	Relays      []string `json:"relays,omitempty"`
	Secret      string   `json:"secret,omitempty"`
	URI         string   `json:"uri,omitempty"`
	AutoApprove bool     `json:"autoApprove,omitempty"`

	// resolve-approval's two accepted shapes (spec.md §9 open question a):
	// {id, decision: "approve"|"reject"} and {approvalId, approved: bool}.
	ID         string `json:"id,omitempty"`
	ApprovalID string `json:"approvalId,omitempty"`
	Decision   string `json:"decision,omitempty"`
	Approved   *bool  `json:"approved,omitempty"`
}

// response is the shape every reply takes: ok + optional payload fields, or
// ok:false + error.
type response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Pong    bool   `json:"pong,omitempty"`
	Version string `json:"version,omitempty"`

	BunkerURI string             `json:"bunkerUri,omitempty"`
	SessionID string             `json:"sessionId,omitempty"`
	Sessions  []sessionView      `json:"sessions,omitempty"`
	Activity  []activity.Entry   `json:"activity,omitempty"`
	Approvals []approvalView     `json:"approvals,omitempty"`
	Keys      []metadata.KeyMetadata `json:"keys,omitempty"`
}

// sessionView mirrors store.SessionRecord but has no field for the bunker
// pairing secret. The uri field is still included, and for a bunker
// session that URI carries the secret in its secret= query parameter.
type sessionView struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	KeyID       string   `json:"keyId"`
	Alias       string   `json:"alias"`
	Relays      []string `json:"relays"`
	URI         string   `json:"uri,omitempty"`
	AutoApprove bool     `json:"autoApprove"`
	Status      string   `json:"status"`
	LastClient  string   `json:"lastClient,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
	Active      bool     `json:"active"`
	Template    string   `json:"template"`
}

func toSessionView(r store.SessionRecord) sessionView {
	return sessionView{
		ID: r.ID, Type: r.Type, KeyID: r.KeyID, Alias: r.Alias, Relays: r.Relays,
		URI: r.URI, AutoApprove: r.AutoApprove, Status: r.Status, LastClient: r.LastClient,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, Active: r.Active, Template: r.Template,
	}
}

type approvalView struct {
	ID           string `json:"id"`
	SessionID    string `json:"sessionId"`
	SessionAlias string `json:"sessionAlias"`
	SessionType  string `json:"sessionType"`
	Client       string `json:"client"`
	EventKind    int    `json:"eventKind"`
	EventSummary string `json:"eventSummary"`
	PolicyID     string `json:"policyId"`
	PolicyLabel  string `json:"policyLabel"`
	CreatedAt    int64  `json:"createdAt"`
	ExpiresAt    int64  `json:"expiresAt"`
	Status       string `json:"status"`
}

func toApprovalView(t store.ApprovalTask) approvalView {
	return approvalView{
		ID: t.ID, SessionID: t.SessionID, SessionAlias: t.SessionAlias, SessionType: t.SessionType,
		Client: t.Client, EventKind: t.EventKind, EventSummary: t.EventSummary,
		PolicyID: t.PolicyID, PolicyLabel: t.PolicyLabel,
		CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt, Status: t.Status,
	}
}

func ok(fields response) response {
	fields.OK = true
	return fields
}

func fail(msg string) response {
	return response{OK: false, Error: msg}
}

// dispatch decodes line as a request and routes it to the matching
// handler. A malformed request or an unknown tag never panics the daemon;
// both are reported back to the caller as ok:false.
func (s *Server) dispatch(line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return fail(err.Error())
	}

	switch req.Type {
	case "ping":
		return ok(response{Pong: true, Version: Version})
	case "list-sessions":
		return s.handleListSessions()
	case "list-activity":
		return s.handleListActivity()
	case "list-approvals":
		return s.handleListApprovals()
	case "list-keys":
		return s.handleListKeys()
	case "select-key":
		return s.handleSelectKey(req)
	case "delete-key":
		return s.handleDeleteKey(req)
	case "resolve-approval":
		return s.handleResolveApproval(req)
	case "stop-session":
		return s.handleStopSession(req)
	case "delete-session":
		return s.handleDeleteSession(req)
	case "rename-session":
		return s.handleRenameSession(req)
	case "update-session-template":
		return s.handleUpdateTemplate(req)
	case "start-bunker":
		return s.handleStartBunker(req)
	case "start-nostr-connect":
		return s.handleStartNostrConnect(req)
	case "shutdown":
		return s.handleShutdown()
	default:
		return fail("Unknown request")
	}
}

func (s *Server) handleListSessions() response {
	recs, err := s.sessions.List(false)
	if err != nil {
		return fail(err.Error())
	}
	views := make([]sessionView, 0, len(recs))
	for _, r := range recs {
		views = append(views, toSessionView(r))
	}
	return ok(response{Sessions: views})
}

func (s *Server) handleListKeys() response {
	keys, err := s.metadata.ListKeys()
	if err != nil {
		return fail(err.Error())
	}
	return ok(response{Keys: keys})
}

// handleSelectKey marks a key as the active default for start requests that
// omit keyId. A key id that doesn't exist in the Metadata Store is rejected
// rather than silently recorded, since nothing could ever resolve it.
func (s *Server) handleSelectKey(req request) response {
	if req.KeyID == "" {
		return fail("keyId is required")
	}
	if _, err := s.metadata.GetKey(req.KeyID); err != nil {
		if errors.Is(err, metadata.ErrKeyNotFound) {
			return fail("Key not found")
		}
		return fail(err.Error())
	}
	if err := s.metadata.SetActiveKey(req.KeyID); err != nil {
		return fail(err.Error())
	}
	return ok(response{})
}

// handleDeleteKey removes a key's metadata record and its vault entry
// together, per spec.md §3.
func (s *Server) handleDeleteKey(req request) response {
	if req.KeyID == "" {
		return fail("keyId is required")
	}
	if err := keys.Delete(context.Background(), s.vault, s.metadata, req.KeyID); err != nil {
		if errors.Is(err, metadata.ErrKeyNotFound) {
			return fail("Key not found")
		}
		return fail(err.Error())
	}
	return ok(response{})
}

func (s *Server) handleListActivity() response {
	return ok(response{Activity: s.activityLog.List()})
}

func (s *Server) handleListApprovals() response {
	tasks, err := s.approvals.ListPending()
	if err != nil {
		return fail(err.Error())
	}
	views := make([]approvalView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, toApprovalView(t))
	}
	return ok(response{Approvals: views})
}

func (s *Server) handleResolveApproval(req request) response {
	id := req.ID
	if id == "" {
		id = req.ApprovalID
	}
	if id == "" {
		return fail("resolve-approval requires id or approvalId")
	}

	var approved bool
	switch {
	case req.Approved != nil:
		approved = *req.Approved
	case req.Decision == "approve":
		approved = true
	case req.Decision == "reject":
		approved = false
	default:
		return fail("resolve-approval requires decision or approved")
	}

	if err := s.approvals.Resolve(id, approved); err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			return fail("Approval task not found")
		}
		return fail(err.Error())
	}
	return ok(response{})
}

func (s *Server) handleStopSession(req request) response {
	return s.stopOrDelete(req, false)
}

func (s *Server) handleDeleteSession(req request) response {
	return s.stopOrDelete(req, true)
}

func (s *Server) stopOrDelete(req request, remove bool) response {
	if req.SessionID == "" {
		return fail("sessionId is required")
	}
	if err := s.sessions.Stop(req.SessionID, remove); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return fail("Session not found")
		}
		return fail(err.Error())
	}
	return ok(response{})
}

func (s *Server) handleRenameSession(req request) response {
	if req.SessionID == "" {
		return fail("sessionId is required")
	}
	if err := s.sessions.Rename(req.SessionID, req.Alias); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return fail("Session not found")
		}
		return fail(err.Error())
	}
	return ok(response{})
}

func (s *Server) handleUpdateTemplate(req request) response {
	if req.SessionID == "" {
		return fail("sessionId is required")
	}
	if err := s.sessions.UpdateTemplate(req.SessionID, req.Template); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			return fail("Session not found")
		case errors.Is(err, session.ErrUnknownPolicy):
			return fail("Unknown policy template")
		default:
			return fail(err.Error())
		}
	}
	return ok(response{})
}

func (s *Server) handleStartBunker(req request) response {
	sessionID, bunkerURI, err := s.sessions.StartBunker(context.Background(), req.KeyID, req.Alias, req.Relays, req.Secret, req.AutoApprove, req.Template)
	if err != nil {
		return fail(err.Error())
	}
	return ok(response{SessionID: sessionID, BunkerURI: bunkerURI})
}

func (s *Server) handleStartNostrConnect(req request) response {
	if req.URI == "" {
		return fail("uri is required")
	}
	sessionID, err := s.sessions.StartNostrConnect(context.Background(), req.KeyID, req.Alias, req.Relays, req.URI, req.AutoApprove, req.Template)
	if err != nil {
		return fail(err.Error())
	}
	return ok(response{SessionID: sessionID})
}

func (s *Server) handleShutdown() response {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	return ok(response{})
}
