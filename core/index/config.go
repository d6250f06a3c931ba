package index

// Config holds configuration for the durable index.
type Config struct {
	// Driver is the database driver (sqlite, mysql).
	Driver string `mapstructure:"driver" default:"sqlite"`
	// Path is the sqlite database file, kept alongside the backing store.
	Path string `mapstructure:"path" default:"./cache-index.db"`
	// Host is the database host (mysql driver only).
	Host string `mapstructure:"host" default:"localhost"`
	// Port is the database port (mysql driver only).
	Port int `mapstructure:"port" default:"3306"`
	// User is the database user (mysql driver only).
	User string `mapstructure:"user" default:"root"`
	// Password is the database password (mysql driver only).
	Password string `mapstructure:"password" default:""`
	// Name is the database name (mysql driver only).
	Name string `mapstructure:"name" default:"cache_index"`
	// TimeoutSeconds is the connection timeout in seconds.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
	// BatchLimit is the maximum number of keys accepted by GetBatch.
	// Callers must chunk beyond it; larger requests are rejected.
	BatchLimit int `mapstructure:"batch_limit" default:"10000"`
}

// EffectiveBatchLimit returns the configured cap, falling back to the default
// when the value is missing or nonsensical.
func (c Config) EffectiveBatchLimit() int {
	if c.BatchLimit <= 0 {
		return 10000
	}
	return c.BatchLimit
}
