package config

// Config holds all configuration for the storage node.
type Config struct {
	Logger  LoggerConfig
	Storage StorageConfig
	HTTP    HTTPConfig
}

// LoggerConfig selects the slog handler.
type LoggerConfig struct {
	Level string
	JSON  bool
}

// StorageConfig covers the data directory, flush policy and the slab
// allocator knobs.
type StorageConfig struct {
	DataDir             string
	FlushThresholdBytes int64
	SlabEnabled         bool
	SlabChunkBytes      int
	SlabMaxAllocBytes   int
}

// HTTPConfig covers the status surface.
type HTTPConfig struct {
	Port string
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "info"},
		Storage: StorageConfig{
			DataDir:             "./data",
			FlushThresholdBytes: 64 * 1024 * 1024,
			SlabEnabled:         true,
			SlabChunkBytes:      2 * 1024 * 1024,
			SlabMaxAllocBytes:   256 * 1024,
		},
		HTTP: HTTPConfig{Port: "8080"},
	}
}
