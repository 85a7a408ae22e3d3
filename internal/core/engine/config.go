package engine

// Config holds the deterministic parameters of an engine. Two
// participants must share TickRate and Tolerance to compute identical
// official ticks; the cache settings are local tuning.
type Config struct {
	// TickRate is the number of ticks per second.
	TickRate int `json:"tick_rate" yaml:"tick_rate"`

	// Tolerance is the maximum number of milliseconds by which an
	// originator's clock is trusted to lead the broker's view.
	Tolerance int64 `json:"tolerance" yaml:"tolerance"`

	// CacheEnabled turns the snapshot cache on. Disabled, every state
	// query replays the full timeline.
	CacheEnabled bool `json:"cache_enabled" yaml:"cache_enabled"`

	// SnapshotStride is the tick spacing between checkpoints.
	SnapshotStride int64 `json:"snapshot_stride" yaml:"snapshot_stride"`

	// SnapshotCount caps the number of retained checkpoints. Together
	// with SnapshotStride it defines the recoverable window.
	SnapshotCount int `json:"snapshot_count" yaml:"snapshot_count"`
}

// DefaultConfig returns the configuration used by the demo clients.
func DefaultConfig() Config {
	return Config{
		TickRate:       24,
		Tolerance:      300,
		CacheEnabled:   true,
		SnapshotStride: 8,
		SnapshotCount:  256,
	}
}

func (c Config) normalized() Config {
	if c.TickRate < 1 {
		c.TickRate = 1
	}
	if c.SnapshotStride < 1 {
		c.SnapshotStride = 1
	}
	if c.SnapshotCount < 1 {
		c.SnapshotCount = 1
	}
	if c.Tolerance < 0 {
		c.Tolerance = 0
	}
	return c
}
