// Package validate implements the inbound validator of §4.4: schema,
// timestamp sanity, rate limiting, abuse scoring, and capability checks.
// Rate limiting uses golang.org/x/time/rate (carried from the
// KhryptorGraphics-OllamaMax and smartramana-developer-mesh members of the
// pack) for the per-client token buckets; everything else is pure Go,
// grounded in the teacher's own inbound-switch shape in main.go's
// handleWebSocket dispatch.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/time/rate"

	"whiteboardcore/internal/config"
	"whiteboardcore/internal/model"
)

var elementIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

const (
	maxPayloadString = 1000
	maxElementIDs    = 100
	maxDataKeys      = 100
	maxDataDepth     = 5
	maxCoordinate    = 1e6
	maxClockSkew     = 60 * time.Second
)

// clientBuckets bundles the per-client rate-limiting and abuse state.
type clientBuckets struct {
	perSecond    *rate.Limiter
	perMinute    *rate.Limiter
	violations   []time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

// Validator enforces §4.4 against every inbound operation or selection
// update. It is safe for concurrent use; the rate-limit/abuse tables use a
// mutex per §5's "fine-grained locking or lock-free maps" requirement.
type Validator struct {
	cfg     config.Config
	mu      sync.Mutex
	clients map[string]*clientBuckets
	now     func() time.Time
}

func New(cfg config.Config) *Validator {
	return &Validator{
		cfg:     cfg,
		clients: make(map[string]*clientBuckets),
		now:     time.Now,
	}
}

// Result is the outcome of validating one inbound payload.
type Result struct {
	Warnings []string
	Errors   []*model.CoreError
}

func (r *Result) ok() bool { return len(r.Errors) == 0 }

func (r *Result) addErr(e *model.CoreError) { r.Errors = append(r.Errors, e) }
func (r *Result) warn(msg string)           { r.Warnings = append(r.Warnings, msg) }

func (v *Validator) bucketsFor(clientID string) *clientBuckets {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.clients[clientID]
	if !ok {
		b = &clientBuckets{
			perSecond: rate.NewLimiter(rate.Limit(v.cfg.RateLimitPerSecond), v.cfg.RateLimitPerSecond),
			perMinute: rate.NewLimiter(rate.Limit(float64(v.cfg.RateLimitPerMinute)/60.0), v.cfg.RateLimitPerMinute),
		}
		v.clients[clientID] = b
	}
	return b
}

// CheckRateAndAbuse enforces §4.4(3)/(4) for clientID, returning a typed
// error when the client is blocked or throttled. It never mutates shared
// state on the happy path beyond consuming one token from each bucket and
// stamping the client's last-seen time.
func (v *Validator) CheckRateAndAbuse(clientID string) *model.CoreError {
	b := v.bucketsFor(clientID)
	now := v.now()

	v.mu.Lock()
	blocked := now.Before(b.blockedUntil)
	b.lastSeen = now
	v.mu.Unlock()
	if blocked {
		return model.NewClientBlocked(b.blockedUntil.UnixMilli())
	}

	if !b.perSecond.AllowN(now, 1) {
		v.recordViolation(b, now)
		return model.NewRateLimited(int64(time.Second/time.Millisecond), "second")
	}
	if !b.perMinute.AllowN(now, 1) {
		v.recordViolation(b, now)
		return model.NewRateLimited(int64(time.Minute/time.Millisecond), "minute")
	}
	return nil
}

// recordViolation appends a violation timestamp and blocks the client once
// the abuse threshold is reached within the 5-minute sliding window.
func (v *Validator) recordViolation(b *clientBuckets, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	window := now.Add(-5 * time.Minute)
	kept := b.violations[:0]
	for _, ts := range b.violations {
		if ts.After(window) {
			kept = append(kept, ts)
		}
	}
	b.violations = append(kept, now)

	if len(b.violations) >= v.cfg.AbuseViolationThreshold {
		b.blockedUntil = now.Add(v.cfg.AbuseBlock)
	}
}

// FlagAbusiveContent records a content-based violation (control chars,
// HTML/JS/SQL sigils) without consuming a rate-limit token.
func (v *Validator) FlagAbusiveContent(clientID string) {
	b := v.bucketsFor(clientID)
	v.recordViolation(b, v.now())
}

// containsInjectionSigils is a coarse content check for §4.4(4): control
// characters or HTML/JS/SQL markers.
func containsInjectionSigils(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return true
		}
	}
	lower := strings.ToLower(s)
	for _, sigil := range []string{"<script", "</script", "javascript:", "onerror=", "' or ", "; drop table", "--"} {
		if strings.Contains(lower, sigil) {
			return true
		}
	}
	return false
}

// stringValuesContainSigils walks a (possibly nested) payload map looking
// for injection sigils in any string value.
func stringValuesContainSigils(m map[string]interface{}) bool {
	for _, v := range m {
		switch s := v.(type) {
		case string:
			if containsInjectionSigils(s) {
				return true
			}
		case map[string]interface{}:
			if stringValuesContainSigils(s) {
				return true
			}
		}
	}
	return false
}

// ValidateOperation runs §4.4(1,2,5) against an inbound operation. Rate
// limiting is a separate call (CheckRateAndAbuse) since transports may want
// to reject before even parsing the payload.
func (v *Validator) ValidateOperation(op *model.Operation, caps map[string]bool) Result {
	res := Result{}

	if op.ID == "" {
		res.warn("operation id missing, will be generated")
	}
	if op.ElementID == "" {
		res.addErr(model.NewValidationError("element_id", "required", "element_id is required"))
	}
	if !validOpKind(op.Kind) {
		res.addErr(model.NewValidationError("kind", "enum", fmt.Sprintf("unknown operation kind %q", op.Kind)))
	}

	if op.Bounds != nil {
		if !finiteAndBounded(op.Bounds.X) || !finiteAndBounded(op.Bounds.Y) ||
			!finiteAndBounded(op.Bounds.X2()) || !finiteAndBounded(op.Bounds.Y2()) {
			res.addErr(model.NewValidationError("bounds", "range", "bounds must be finite and within +/-1e6"))
		}
	}
	if op.Position != nil {
		if !finiteAndBounded(op.Position.X) || !finiteAndBounded(op.Position.Y) {
			res.addErr(model.NewValidationError("position", "range", "position must be finite and within +/-1e6"))
		}
	}

	if op.Data != nil {
		if len(op.Data) > maxDataKeys {
			res.addErr(model.NewValidationError("data", "too_many_keys", "payload keys exceed limit"))
		}
		if depth := mapDepth(op.Data, 0); depth > maxDataDepth {
			res.addErr(model.NewValidationError("data", "too_deep", "payload nesting exceeds limit"))
		}
		truncated := sanitizeStrings(op.Data)
		if truncated {
			res.warn("one or more string fields were truncated to the size cap")
		}
		if stringValuesContainSigils(op.Data) {
			res.addErr(model.NewValidationError("data", "content", "payload contains disallowed markup or control characters"))
		}
	}

	if !clockOK(op) {
		res.addErr(model.NewValidationError("timestamp", "skew", "timestamp outside allowed clock skew"))
	}

	if caps != nil && !caps[string(op.Kind)] && op.Kind != model.OpNoop {
		res.addErr(model.NewValidationError("kind", "forbidden", "capability does not permit this operation kind"))
	}

	return res
}

func validOpKind(k model.OpKind) bool {
	switch k {
	case model.OpCreate, model.OpUpdate, model.OpDelete, model.OpMove, model.OpStyle,
		model.OpResize, model.OpRotate, model.OpGroup, model.OpUngroup, model.OpReorder,
		model.OpCompound, model.OpBatch, model.OpNoop:
		return true
	}
	return false
}

func finiteAndBounded(f float64) bool {
	return f == f && f > -maxCoordinate && f < maxCoordinate // f==f excludes NaN
}

func clockOK(op *model.Operation) bool {
	if op.CreatedAt.IsZero() {
		return true // caller will stamp it; nothing to check yet
	}
	skew := time.Since(op.CreatedAt)
	if skew < 0 {
		skew = -skew
	}
	return skew <= maxClockSkew
}

func mapDepth(m map[string]interface{}, depth int) int {
	maxD := depth
	for _, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			if d := mapDepth(nested, depth+1); d > maxD {
				maxD = d
			}
		}
	}
	return maxD
}

// sanitizeStrings trims and caps string values in place; returns true if
// anything was truncated.
func sanitizeStrings(m map[string]interface{}) bool {
	truncated := false
	for k, v := range m {
		switch s := v.(type) {
		case string:
			trimmed := strings.TrimSpace(s)
			if len(trimmed) > maxPayloadString {
				trimmed = trimmed[:maxPayloadString]
				truncated = true
			}
			m[k] = trimmed
		case map[string]interface{}:
			if sanitizeStrings(s) {
				truncated = true
			}
		}
	}
	return truncated
}

// Sweep drops per-client rate-limit/abuse records idle longer than
// retention, bounding the client map for whiteboards whose users have long
// since disconnected. Never drops a client still inside its block window.
func (v *Validator) Sweep(retention time.Duration) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	cutoff := v.now().Add(-retention)
	removed := 0
	for id, b := range v.clients {
		if b.lastSeen.Before(cutoff) && v.now().After(b.blockedUntil) {
			delete(v.clients, id)
			removed++
		}
	}
	return removed
}

// ValidateElementIDs enforces the selection-update element-id schema rules
// of §4.4(1): pattern and count cap.
func ValidateElementIDs(ids []string) *model.CoreError {
	if len(ids) > maxElementIDs {
		return model.NewValidationError("element_ids", "too_many", "element id list exceeds limit")
	}
	for _, id := range ids {
		if !elementIDPattern.MatchString(id) {
			return model.NewValidationError("element_ids", "pattern", fmt.Sprintf("invalid element id %q", id))
		}
	}
	return nil
}
