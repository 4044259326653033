// Package policy implements the compile-time Policy Registry: a fixed
// catalog of named signing policies, each a pure function of an inbound
// request to a SIGN/REFER/REJECT decision.
package policy

// Decision is the outcome of evaluating a policy against a request.
type Decision int

const (
	Sign Decision = iota
	Refer
	Reject
)

func (d Decision) String() string {
	switch d {
	case Sign:
		return "sign"
	case Refer:
		return "refer"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// SessionSummary is the minimal session context a policy may consult.
type SessionSummary struct {
	ID    string
	Alias string
	Type  string
}

// Context is everything a policy's Evaluate function is allowed to look at.
// It must be treated as read-only: Evaluate is required to be pure and
// total, with no I/O and no suspension.
type Context struct {
	EventKind int
	Client    string
	Session   SessionSummary
}

// Nostr Connect / NIP-46 request kinds relevant to policy evaluation.
const (
	KindConnectRequest = 24133 // login / pairing request kind
	KindShortTextNote  = 1
	KindEncryptedDM    = 4
	KindProfileUpdate  = 0
)

// Policy is one named catalog entry.
type Policy struct {
	ID          string
	Label       string
	Description string
	Evaluate    func(Context) Decision
}

// Registry is the fixed catalog loaded at startup.
type Registry struct {
	policies  map[string]Policy
	order     []string
	defaultID string
}

// NewRegistry builds the built-in catalog.
func NewRegistry() *Registry {
	r := &Registry{
		policies:  map[string]Policy{},
		defaultID: "login-and-publish",
	}
	for _, p := range builtins() {
		r.add(p)
	}
	return r
}

func (r *Registry) add(p Policy) {
	r.policies[p.ID] = p
	r.order = append(r.order, p.ID)
}

// Resolve looks up a policy by id. The second return is false for an
// unknown id; callers that need a policy regardless should use Default.
func (r *Registry) Resolve(id string) (Policy, bool) {
	p, ok := r.policies[id]
	return p, ok
}

// ResolveOrDefault resolves id, falling back to the registry default for an
// unknown id. This is the fallback semantics spec.md requires whenever a
// persisted SessionRecord names a policy id that no longer exists.
func (r *Registry) ResolveOrDefault(id string) Policy {
	if p, ok := r.policies[id]; ok {
		return p
	}
	return r.Default()
}

// Default returns the registry's default policy.
func (r *Registry) Default() Policy {
	return r.policies[r.defaultID]
}

// DefaultID returns the id of the default policy.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// List returns every policy in catalog order.
func (r *Registry) List() []Policy {
	out := make([]Policy, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.policies[id])
	}
	return out
}

func builtins() []Policy {
	return []Policy{
		{
			ID:          "auto-sign",
			Label:       "Auto-sign",
			Description: "Sign every request automatically, no review.",
			Evaluate: func(Context) Decision {
				return Sign
			},
		},
		{
			ID:          "online-login",
			Label:       "Logins only",
			Description: "Sign connect/login requests, reject everything else.",
			Evaluate: func(ctx Context) Decision {
				if ctx.EventKind == KindConnectRequest {
					return Sign
				}
				return Reject
			},
		},
		{
			ID:          "login-and-publish",
			Label:       "Login + publish",
			Description: "Sign logins and short notes, reject profile updates, refer everything else.",
			Evaluate: func(ctx Context) Decision {
				switch ctx.EventKind {
				case KindConnectRequest, KindShortTextNote:
					return Sign
				case KindProfileUpdate:
					return Reject
				default:
					return Refer
				}
			},
		},
		{
			ID:          "login-auto-others-review",
			Label:       "Login auto, others review",
			Description: "Sign logins automatically, refer every other request for approval.",
			Evaluate: func(ctx Context) Decision {
				if ctx.EventKind == KindConnectRequest {
					return Sign
				}
				return Refer
			},
		},
		{
			ID:          "read-only",
			Label:       "Read only",
			Description: "Reject every request; useful for a view-only pairing.",
			Evaluate: func(Context) Decision {
				return Reject
			},
		},
	}
}
