package config

import "time"

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// EngineConfig holds the settings of the aggregation engine.
type EngineConfig struct {
	// IntervalWidth is the width of one interval bucket, e.g. "1s".
	IntervalWidth string `yaml:"interval_width"`
	// NumWorkers bounds the number of shards aggregated concurrently.
	NumWorkers int `yaml:"num_workers"`
	// MACTieBreak picks the IP-MAC winner across shards: latest, first or last.
	MACTieBreak string `yaml:"mac_tie_break"`
	// BPFFilter is applied when reading capture files through libpcap.
	BPFFilter string `yaml:"bpf_filter"`
	// OriginFromFirstSource pins the interval origin of every shard to the
	// first packet of the first source, so shard buckets line up on merge.
	OriginFromFirstSource *bool `yaml:"origin_from_first_source,omitempty"`
}

// Interval returns the parsed interval width.
func (e EngineConfig) Interval() time.Duration {
	d, _ := time.ParseDuration(e.IntervalWidth)
	return d
}

// PinOrigin reports whether shard origins are pinned to the first source.
func (e EngineConfig) PinOrigin() bool {
	return e.OriginFromFirstSource == nil || *e.OriginFromFirstSource
}

// GobConfig holds the settings of the gob file writer.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// SQLiteConfig holds the settings of the SQLite writer.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ClickHouseConfig holds the connection settings for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WriterDef defines one persistence target.
type WriterDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	Gob        GobConfig        `yaml:"gob"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ProbeConfig holds the NATS transport settings.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// APIConfig holds the query server settings.
type APIConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Engine  EngineConfig  `yaml:"engine"`
	Writers []WriterDef   `yaml:"writers"`
	Probe   ProbeConfig   `yaml:"probe"`
	API     APIConfig     `yaml:"api"`
}

// Defaults returns a configuration with default values.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Engine: EngineConfig{
			IntervalWidth: "1s",
			NumWorkers:    4,
			MACTieBreak:   "latest",
		},
		Probe: ProbeConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "gons.packets.records",
		},
		API: APIConfig{
			ListenAddr:   ":8080",
			SnapshotPath: "snapshot.gob",
		},
	}
}
