package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/humansinstitute/intercessio/internal/metadata"
)

// request mirrors internal/control's wire shape; kept independent of that
// package since its fields are unexported and the wire format is the only
// real contract between daemon and client.
type request struct {
	Type string `json:"type"`

	SessionID string   `json:"sessionId,omitempty"`
	Alias     string   `json:"alias,omitempty"`
	Template  string   `json:"template,omitempty"`
	KeyID     string   `json:"keyId,omitempty"`
	Relays    []string `json:"relays,omitempty"`
	Secret    string   `json:"secret,omitempty"`
	URI       string   `json:"uri,omitempty"`
	AutoApprove bool   `json:"autoApprove,omitempty"`

	ID         string `json:"id,omitempty"`
	ApprovalID string `json:"approvalId,omitempty"`
	Decision   string `json:"decision,omitempty"`
	Approved   *bool  `json:"approved,omitempty"`
}

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

type activityEntry struct {
	ID           string         `json:"id"`
	Timestamp    int64          `json:"timestamp"`
	Type         string         `json:"type"`
	Summary      string         `json:"summary"`
	SessionID    string         `json:"session_id,omitempty"`
	SessionLabel string         `json:"session_label,omitempty"`
	Client       string         `json:"client,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type response struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Pong    bool   `json:"pong,omitempty"`
	Version string `json:"version,omitempty"`

	BunkerURI string                 `json:"bunkerUri,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Sessions  []sessionView          `json:"sessions,omitempty"`
	Activity  []activityEntry        `json:"activity,omitempty"`
	Approvals []approvalView         `json:"approvals,omitempty"`
	Keys      []metadata.KeyMetadata `json:"keys,omitempty"`
}

// send dials socketPath, writes req as one newline-delimited JSON line, and
// decodes the daemon's single-line reply.
func send(req request) (response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 3*time.Second)
	if err != nil {
		return response{}, fmt.Errorf("connect to %s: %w (is intercessiod running?)", socketPath, err)
	}
	defer conn.Close()

	body, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("encode request: %w", err)
	}
	body = append(body, '\n')
	if _, err := conn.Write(body); err != nil {
		return response{}, fmt.Errorf("write request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return response{}, fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}
