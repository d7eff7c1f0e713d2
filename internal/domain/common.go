package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for a position opened on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// FillMode is the order filling policy requested from the broker.
// Brokers differ in which modes they accept; the executor walks an
// ordered list when a submission is rejected as unsupported.
type FillMode string

const (
	FillReturn FillMode = "RETURN"
	FillIOC    FillMode = "IOC"
	FillFOK    FillMode = "FOK"
)

// DefaultFillModes is the ordered list of fill modes tried on submission.
var DefaultFillModes = []FillMode{FillReturn, FillIOC, FillFOK}

// AttributionMethod records how a trade was matched to a bot instance.
type AttributionMethod string

const (
	// MethodTag is an exact match on the numeric attribution tag.
	MethodTag AttributionMethod = "tag"
	// MethodComment is a match on the structured comment pattern.
	MethodComment AttributionMethod = "comment"
	// MethodRange is a lower-confidence match against an instance's tag range.
	MethodRange AttributionMethod = "range"
	// MethodManual means no instance owns the trade.
	MethodManual AttributionMethod = "manual"
)

// Attribution is the result of resolving a trade to a bot instance.
type Attribution struct {
	BotID      string            `json:"bot_id,omitempty"`
	Method     AttributionMethod `json:"method"`
	Confidence float64           `json:"confidence"`
}

// IsBot reports whether the trade belongs to a managed bot instance.
func (a Attribution) IsBot() bool {
	return a.Method != MethodManual && a.BotID != ""
}

// Manual is the attribution assigned to trades no instance owns.
var Manual = Attribution{Method: MethodManual}
