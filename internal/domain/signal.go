package domain

// Signal is an ephemeral trade recommendation produced by a strategy for
// a single evaluation window. It is not persisted beyond the tick that
// produced it.
type Signal struct {
	Side       OrderSide `json:"side"`
	Price      float64   `json:"price"` // reference price at evaluation time
	Confidence float64   `json:"confidence"`
	Strategy   string    `json:"strategy"`
	Reason     string    `json:"reason"`
}
