package domain

// FillRecord represents one completed routing request with full
// execution detail. Corresponds to the fills table.
type FillRecord struct {
	FillID      string // deterministic hash
	RequestID   string // caller-supplied or generated request UUID
	Caller      string // caller account address
	Market      string // market key string form
	Discipline  string // routing discipline used
	MaxTick     int64  // caller's price ceiling
	AmountIn    uint64 // requested sell amount
	Given       uint64 // total sell tokens consumed
	Received    uint64 // total buy tokens received
	Bounty      uint64 // penalties collected from failed resting orders
	Fee         uint64 // taker fee paid to the book
	TimestampMs int64  // completion timestamp (ms)

	Legs []*LegRecord // per-leg detail, in execution order
}

// LegRecord represents a single execution leg within a fill.
// Corresponds to fill_legs in ClickHouse for execution-quality analysis.
type LegRecord struct {
	FillID       string
	LegIndex     int
	Kind         string // "venue" | "book"
	AdapterID    string // empty for book legs
	CeilingTick  int64  // effective ceiling offered to this leg
	Given        uint64
	Received     uint64
	RealizedTick *int64 // nil when the leg filled nothing
	TimestampMs  int64
}

// RouteResult is the caller-visible outcome of one routing request.
type RouteResult struct {
	FillID    string
	RequestID string
	Given     uint64 // sell tokens consumed across all legs
	Received  uint64 // buy tokens delivered to the caller
	Bounty    uint64 // penalties forwarded to the caller
	Fee       uint64 // taker fee paid to the book
}

// BookExecution is the outcome of one execute-at-limit call against the
// resident order book. The book may partially fill without failing.
type BookExecution struct {
	Given    uint64 // sell tokens consumed
	Received uint64 // buy tokens credited to the taker, net of fee
	Bounty   uint64 // penalties collected from faulty resting orders
	Fee      uint64 // taker fee retained by the book
}

// Leg kind constants
const (
	LegKindVenue = "venue"
	LegKindBook  = "book"
)

// Routing discipline constants
const (
	DisciplineSingle     = "single"
	DisciplineSequential = "sequential"
	DisciplineSplit      = "split"
)
