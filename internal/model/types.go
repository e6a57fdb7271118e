// Package model holds the data shapes shared across every OTE/SCE component:
// operations, conflicts, transactions, selections, and the typed error (see
// errors.go). Nothing in here mutates shared state; these are plain records.
package model

import "time"

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is an axis-aligned rectangle, width/height rather than two corners
// (unlike the teacher's BoundingBox) so zero-area rectangles are explicit.
type Bounds struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (b Bounds) X2() float64 { return b.X + b.W }
func (b Bounds) Y2() float64 { return b.Y + b.H }

func (b Bounds) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Overlaps reports whether two bounds intersect (touching edges do not count).
func (b Bounds) Overlaps(o Bounds) bool {
	return b.X < o.X2() && o.X < b.X2() && b.Y < o.Y2() && o.Y < b.Y2()
}

// Intersection returns the overlap rectangle and whether one exists.
func (b Bounds) Intersection(o Bounds) (Bounds, bool) {
	if !b.Overlaps(o) {
		return Bounds{}, false
	}
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.X2(), o.X2())
	y2 := min(b.Y2(), o.Y2())
	return Bounds{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}, true
}

// Union returns the smallest rectangle containing both.
func (b Bounds) Union(o Bounds) Bounds {
	x1 := min(b.X, o.X)
	y1 := min(b.Y, o.Y)
	x2 := max(b.X2(), o.X2())
	y2 := max(b.Y2(), o.Y2())
	return Bounds{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// OpKind enumerates the element operation kinds of §3.
type OpKind string

const (
	OpCreate   OpKind = "create"
	OpUpdate   OpKind = "update"
	OpDelete   OpKind = "delete"
	OpMove     OpKind = "move"
	OpStyle    OpKind = "style"
	OpResize   OpKind = "resize"
	OpRotate   OpKind = "rotate"
	OpGroup    OpKind = "group"
	OpUngroup  OpKind = "ungroup"
	OpReorder  OpKind = "reorder"
	OpCompound OpKind = "compound"
	OpBatch    OpKind = "batch"
	OpNoop     OpKind = "noop"
)

// OpMetadata carries the client-reported telemetry fields of §3, plus the
// processing time the core itself measured.
type OpMetadata struct {
	ClientID        string `json:"client_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	NetworkLatency  int64  `json:"network_latency_ms,omitempty"`
	ProcessingTime  int64  `json:"processing_time_ms,omitempty"`
	ManualRequired  bool   `json:"manual_required,omitempty"`
	DroppedSubOps   int    `json:"dropped_sub_ops,omitempty"`
}

// Operation is the element operation record of §3.
type Operation struct {
	ID              string                 `json:"id"`
	Kind            OpKind                 `json:"kind"`
	ElementID       string                 `json:"element_id"`
	ElementKind     string                 `json:"element_kind,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Position        *Point                 `json:"position,omitempty"`
	Bounds          *Bounds                `json:"bounds,omitempty"`
	Rotation        *float64               `json:"rotation,omitempty"`
	Style           map[string]string      `json:"style,omitempty"`
	ZIndex          *int                   `json:"z_index,omitempty"`
	ParentOps       []string               `json:"parent_operations,omitempty"`
	DependsOn       []string               `json:"depends_on,omitempty"`
	LogicalTime     string                 `json:"logical_time"`
	Version         int64                  `json:"version"`
	UserID          string                 `json:"user_id"`
	VectorClock     map[string]int64       `json:"vector_clock"`
	Lamport         int64                  `json:"lamport"`
	PriorityHint    *int                   `json:"priority_hint,omitempty"`
	RetryCount      int                    `json:"retry_count,omitempty"`
	Metadata        OpMetadata             `json:"metadata"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Clone deep-copies the operation's mutable maps/slices so transforms never
// alias the caller's copy.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	c := *o
	if o.Data != nil {
		c.Data = make(map[string]interface{}, len(o.Data))
		for k, v := range o.Data {
			c.Data[k] = v
		}
	}
	if o.Style != nil {
		c.Style = make(map[string]string, len(o.Style))
		for k, v := range o.Style {
			c.Style[k] = v
		}
	}
	if o.VectorClock != nil {
		c.VectorClock = make(map[string]int64, len(o.VectorClock))
		for k, v := range o.VectorClock {
			c.VectorClock[k] = v
		}
	}
	if o.ParentOps != nil {
		c.ParentOps = append([]string(nil), o.ParentOps...)
	}
	if o.DependsOn != nil {
		c.DependsOn = append([]string(nil), o.DependsOn...)
	}
	if o.Position != nil {
		p := *o.Position
		c.Position = &p
	}
	if o.Bounds != nil {
		b := *o.Bounds
		c.Bounds = &b
	}
	return &c
}

// ConflictType enumerates the pluggable conflict detector family of §4.5.
type ConflictType string

const (
	ConflictSpatial    ConflictType = "spatial"
	ConflictTemporal   ConflictType = "temporal"
	ConflictSemantic   ConflictType = "semantic"
	ConflictOrdering   ConflictType = "ordering"
	ConflictDependency ConflictType = "dependency"
	ConflictCompound   ConflictType = "compound"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for descending sort (§4.5 emission order).
var severityRank = map[Severity]int{
	SeverityCritical: 3,
	SeverityHigh:     2,
	SeverityMedium:   1,
	SeverityLow:      0,
}

func (s Severity) rank() int { return severityRank[s] }

func SeverityLess(a, b Severity) bool { return a.rank() < b.rank() }

type SpatialOverlap struct {
	Area       float64 `json:"area"`
	Percentage float64 `json:"percentage"`
}

type TemporalProximity struct {
	DiffMs      int64 `json:"diff_ms"`
	Simultaneous bool `json:"simultaneous"`
}

type SemanticConflictDetail struct {
	IncompatibleChanges []string               `json:"incompatible_changes"`
	DataConflicts       map[string]interface{} `json:"data_conflicts"`
}

type Resolution struct {
	Strategy         string    `json:"strategy"`
	ResultOperation  *Operation `json:"result_operation,omitempty"`
	ManualRequired   bool      `json:"manual_required"`
	Confidence       float64   `json:"confidence"`
}

// ConflictRecord is the conflict record of §3. Active until ResolvedAt is set;
// terminal thereafter and never mutated again (invariant enforced by callers,
// not by the type itself).
type ConflictRecord struct {
	ID                string                  `json:"id"`
	Type              ConflictType            `json:"type"`
	Severity          Severity                `json:"severity"`
	Operations        []*Operation            `json:"operations"`
	AffectedElements  []string                `json:"affected_element_ids"`
	SpatialOverlap    *SpatialOverlap         `json:"spatial_overlap,omitempty"`
	TemporalProximity *TemporalProximity      `json:"temporal_proximity,omitempty"`
	Semantic          *SemanticConflictDetail `json:"semantic,omitempty"`
	Strategy          string                  `json:"strategy,omitempty"`
	DetectedAt        time.Time               `json:"detected_at"`
	ResolvedAt        *time.Time              `json:"resolved_at,omitempty"`
	Resolution        *Resolution             `json:"resolution,omitempty"`
}

func (c *ConflictRecord) IsTerminal() bool { return c.ResolvedAt != nil }

// TransformContext is the per-operation context of §3.
type TransformContext struct {
	CanvasVersion      int64
	Pending            []*Operation
	ElementState       map[string]*Operation
	VectorClock        map[string]int64
	LamportClock       int64
	UserID             string
	UserRole           string
	Capabilities       map[string]bool
	StartTime          time.Time
	ProcessingBudget   time.Duration
}

func (tc *TransformContext) Elapsed() time.Duration { return time.Since(tc.StartTime) }

func (tc *TransformContext) Remaining() time.Duration {
	r := tc.ProcessingBudget - tc.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// TxState enumerates the transaction lifecycle of §3.
type TxState string

const (
	TxPending      TxState = "pending"
	TxCommitted    TxState = "committed"
	TxRolledBack   TxState = "rolled_back"
)

type Transaction struct {
	ID            string
	Operations    []*Operation
	RollbackData  map[string]interface{}
	State         TxState
	CreatedAt     time.Time
	OwnerUserID   string
}

// SelectionState is the per-user selection record of §3.
type SelectionState struct {
	UserID       string
	UserName     string
	UserColor    string
	WhiteboardID string
	SessionID    string
	ElementIDs   []string
	Bounds       *Bounds
	Timestamp    time.Time
	MultiSelect  bool
	Priority     int
	Active       bool
	LastSeen     time.Time
}

type LockReason string

const (
	LockEditing LockReason = "editing"
	LockMoving  LockReason = "moving"
	LockStyling LockReason = "styling"
	LockManual  LockReason = "manual"
)

// SelectionOwnership is the time-bounded ownership record of §3.
type SelectionOwnership struct {
	ElementID  string
	OwnerID    string
	OwnerName  string
	OwnerColor string
	AcquiredAt time.Time
	ExpiresAt  time.Time
	Locked     bool
	LockReason LockReason
}

func (o *SelectionOwnership) Expired(now time.Time) bool { return now.After(o.ExpiresAt) }

type Contender struct {
	UserID    string
	UserName  string
	Priority  int
	Timestamp time.Time
}

type ResolutionKind string

const (
	ResOwnership ResolutionKind = "ownership"
	ResShared    ResolutionKind = "shared"
	ResTimeout   ResolutionKind = "timeout"
	ResManual    ResolutionKind = "manual"
)

// SelectionConflict is the per-element multi-user conflict record of §3.
type SelectionConflict struct {
	ID         string
	ElementID  string
	Contenders []Contender
	ResolvedBy string
	Resolution ResolutionKind
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

func (c *SelectionConflict) IsTerminal() bool { return c.ResolvedAt != nil }

type HighlightStyle string

const (
	StyleSolid  HighlightStyle = "solid"
	StyleDashed HighlightStyle = "dashed"
	StyleDotted HighlightStyle = "dotted"
)

type AnimationHint string

const (
	AnimNone  AnimationHint = "none"
	AnimPulse AnimationHint = "pulse"
	AnimGlow  AnimationHint = "glow"
)

// SelectionHighlight is the derived, never-stored projection of §3.
type SelectionHighlight struct {
	UserID     string
	UserName   string
	UserColor  string
	ElementIDs []string
	Bounds     *Bounds
	Timestamp  time.Time
	Opacity    float64
	Style      HighlightStyle
	Animation  AnimationHint
}

// PerformanceMetrics is the periodic snapshot of §4.12.
type PerformanceMetrics struct {
	OperationCount        int64
	AvgLatencyMs          float64
	MaxLatencyMs          float64
	ConflictRate          float64
	ResolutionSuccessRate float64
	ThroughputPerSecond   float64
	MemoryBytes           int64
	ActiveUsers           int
	QueueSize             int
	UpdatedAt             time.Time
}
