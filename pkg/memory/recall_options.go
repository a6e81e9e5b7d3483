package memory

// Recall defaults.
const (
	DefaultK         = 5
	DefaultTopN      = 3
	DefaultDecayRate = 0.1
)

// RecallOptions holds the tuning knobs of [Store.Recall].
type RecallOptions struct {
	// K is the number of raw nearest neighbours fetched from the index.
	K int

	// TopN caps the number of recollections returned after re-ranking.
	TopN int

	// DecayRate is the per-tick linear attenuation of the raw score.
	DecayRate float64

	// MinScore, when non-nil, drops candidates whose raw score is below it
	// before decay is applied. Nil disables the floor.
	MinScore *float64
}

// RecallOption is a functional option for [Store.Recall].
type RecallOption func(*RecallOptions)

// WithK sets the number of nearest neighbours fetched from the index.
// Non-positive values are ignored.
func WithK(k int) RecallOption {
	return func(o *RecallOptions) {
		if k > 0 {
			o.K = k
		}
	}
}

// WithTopN sets the maximum number of recollections returned.
// Non-positive values are ignored.
func WithTopN(n int) RecallOption {
	return func(o *RecallOptions) {
		if n > 0 {
			o.TopN = n
		}
	}
}

// WithDecayRate sets the linear decay per tick of age. Negative values are
// ignored; zero disables decay.
func WithDecayRate(rate float64) RecallOption {
	return func(o *RecallOptions) {
		if rate >= 0 {
			o.DecayRate = rate
		}
	}
}

// WithMinScore enables a raw-score floor applied before decay weighting.
func WithMinScore(min float64) RecallOption {
	return func(o *RecallOptions) {
		o.MinScore = &min
	}
}

// WithOptions copies a fully populated option set, e.g. one built from
// configuration.
func WithOptions(src RecallOptions) RecallOption {
	return func(o *RecallOptions) {
		WithK(src.K)(o)
		WithTopN(src.TopN)(o)
		WithDecayRate(src.DecayRate)(o)
		if src.MinScore != nil {
			WithMinScore(*src.MinScore)(o)
		}
	}
}

func applyRecallOptions(opts []RecallOption) RecallOptions {
	o := RecallOptions{K: DefaultK, TopN: DefaultTopN, DecayRate: DefaultDecayRate}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
