package risk

// Policy holds optional guards applied to a plan before sizing. Zero values
// disable a guard.
type Policy struct {
	// MinRR rejects plans whose first target is closer than MinRR * R.
	MinRR float64 `json:"min_rr" yaml:"min_rr"`

	// MaxOpenPositions caps simultaneously open positions across symbols.
	MaxOpenPositions int `json:"max_open_positions" yaml:"max_open_positions"`
}
