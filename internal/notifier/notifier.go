// Package notifier implements the Notifier: a best-effort fire-and-forget
// HTTP publisher for approval notifications. Failures are logged and
// swallowed; the approval flow never depends on delivery succeeding.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Task is the minimal view of an ApprovalTask a notification describes.
// Kept separate from store.ApprovalTask so this package never imports the
// Session Store and never risks logging a draft containing secret-adjacent
// material.
type Task struct {
	ID           string
	SessionAlias string
	Client       string
	EventKind    int
	PolicyLabel  string
}

// Notifier posts a single best-effort notification per approval task.
type Notifier struct {
	baseURL    string
	topic      string
	reviewLink string

	client  *http.Client
	limiter *rate.Limiter
}

// New constructs a Notifier. An empty topic makes Notify a no-op, matching
// spec.md's "absent topic -> publication is a no-op".
func New(baseURL, topic, reviewLink string) *Notifier {
	return &Notifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		topic:      topic,
		reviewLink: reviewLink,
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Notify fires a single outbound HTTP POST describing task. The rate-limit
// wait honours ctx, so a caller context that is already done skips the
// notification; the POST itself runs against its own detached timeout
// context, which the caller context cannot abort. Every error is logged at
// WARN and swallowed.
func (n *Notifier) Notify(ctx context.Context, t Task) {
	if n.topic == "" {
		return
	}

	if err := n.limiter.Wait(ctx); err != nil {
		slog.Warn("notifier: rate limit wait failed", "error", err, "task_id", t.ID)
		return
	}

	body := n.buildBody(t)

	sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := n.baseURL + "/" + n.topic
	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		slog.Warn("notifier: build request failed", "error", err, "task_id", t.ID)
		return
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", fmt.Sprintf("Intercessio: %s needs approval", t.SessionAlias))

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("notifier: publish failed", "error", err, "task_id", t.ID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Warn("notifier: publish rejected", "status", resp.StatusCode, "task_id", t.ID)
	}
}

func (n *Notifier) buildBody(t Task) string {
	client := t.Client
	if len(client) > 8 {
		client = client[:8]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session %q requests approval from %s\n", t.SessionAlias, client)
	fmt.Fprintf(&b, "Event kind: %d\n", t.EventKind)
	fmt.Fprintf(&b, "Policy: %s\n", t.PolicyLabel)
	if n.reviewLink != "" {
		fmt.Fprintf(&b, "Review: %s/approvals/%s\n", strings.TrimRight(n.reviewLink, "/"), t.ID)
	}
	return b.String()
}
