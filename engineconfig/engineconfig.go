// Package engineconfig loads and validates the engine's EngineOptions
// (spec §6), the same way the teacher loads its own genesis/chain config:
// BurntSushi/toml decoding a file into a plain struct, then a dedicated
// Validate pass rather than scattering checks across constructors.
package engineconfig

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/shino/foedus/errs"
)

// ThreadOptions is the [thread] TOML table.
type ThreadOptions struct {
	GroupCount          int `toml:"group_count"`
	ThreadCountPerGroup int `toml:"thread_count_per_group"`
}

// XctOptions is the [xct] TOML table (spec §6 "xct.max_read_set_size /
// xct.max_write_set_size").
type XctOptions struct {
	MaxReadSetSize  int `toml:"max_read_set_size"`
	MaxWriteSetSize int `toml:"max_write_set_size"`
}

// LogOptions is the [log] TOML table.
type LogOptions struct {
	LoggerCount       int    `toml:"logger_count"`
	BufferSizeBytes   int    `toml:"buffer_size_bytes"`
	FolderPathPattern string `toml:"folder_path_pattern"`
	EpochAdvanceMS    int    `toml:"epoch_advance_interval_ms"`

	// EngineLogPath, when non-empty, routes the engine's own structured
	// logging (as opposed to the WAL data this package otherwise
	// describes) to a rotated JSON file instead of stderr.
	EngineLogPath       string `toml:"engine_log_path"`
	EngineLogMaxSizeMB  int    `toml:"engine_log_max_size_mb"`
	EngineLogMaxBackups int    `toml:"engine_log_max_backups"`
}

// SavepointOptions is the [savepoint] TOML table.
type SavepointOptions struct {
	Path string `toml:"path"`
}

// StorageOptions is the [storage] TOML table (spec §4.7 backend
// directories).
type StorageOptions struct {
	ArrayDBPath string `toml:"array_db_path"`
	HashDBPath  string `toml:"hash_db_path"`
}

// MetricsOptions is the [metrics] TOML table.
type MetricsOptions struct {
	ListenAddr string `toml:"listen_addr"`
}

// EngineOptions is the top-level document (spec §6 "EngineOptions").
type EngineOptions struct {
	Thread    ThreadOptions    `toml:"thread"`
	Xct       XctOptions       `toml:"xct"`
	Log       LogOptions       `toml:"log"`
	Savepoint SavepointOptions `toml:"savepoint"`
	Storage   StorageOptions   `toml:"storage"`
	Metrics   MetricsOptions   `toml:"metrics"`
}

// Default returns an EngineOptions with every field at the spec's §6
// documented default.
func Default() EngineOptions {
	return EngineOptions{
		Thread: ThreadOptions{GroupCount: 0, ThreadCountPerGroup: 0}, // 0 => numa.Default()
		Xct:    XctOptions{MaxReadSetSize: 512, MaxWriteSetSize: 256},
		Log: LogOptions{
			LoggerCount:         1,
			BufferSizeBytes:     4 << 20,
			FolderPathPattern:   "./log",
			EpochAdvanceMS:      20,
			EngineLogMaxSizeMB:  100,
			EngineLogMaxBackups: 3,
		},
		Savepoint: SavepointOptions{Path: "./savepoint.toml"},
		Storage:   StorageOptions{ArrayDBPath: "./array.db", HashDBPath: "./hash.db"},
		Metrics:   MetricsOptions{ListenAddr: ""},
	}
}

// Load decodes path into an EngineOptions layered over Default, then
// validates it.
func Load(path string) (EngineOptions, error) {
	opts := Default()
	if _, err := toml.DecodeFile(path, &opts); err != nil {
		return EngineOptions{}, errs.Wrap(err, errs.DependentModuleUnavailableInit, "decoding engine config toml")
	}
	if err := opts.Validate(); err != nil {
		return EngineOptions{}, err
	}
	return opts, nil
}

// EpochAdvanceInterval converts the millisecond TOML field into a
// time.Duration for xct.NewManager.
func (o EngineOptions) EpochAdvanceInterval() time.Duration {
	return time.Duration(o.Log.EpochAdvanceMS) * time.Millisecond
}

// Validate enforces the divisibility and positivity rules spec §6 requires
// before the engine will start (mirrors the checks wal.NewManager makes at
// construction, duplicated here so a bad config fails fast at load time
// instead of at first logger wiring). The logger-count divisibility rules are
// checked only when both thread counts are set; when either is zero the
// topology comes from numa.Default at engine construction and
// wal.NewManager checks them there.
func (o EngineOptions) Validate() error {
	if o.Thread.GroupCount < 0 || o.Thread.ThreadCountPerGroup < 0 {
		return errs.New(errs.FatalInternal, "engineconfig: thread counts must not be negative")
	}
	if o.Xct.MaxReadSetSize < 0 || o.Xct.MaxWriteSetSize < 0 {
		return errs.New(errs.FatalInternal, "engineconfig: xct set sizes must not be negative")
	}
	if o.Log.LoggerCount <= 0 {
		return errs.New(errs.InvalidLoggerCount, "engineconfig: log.logger_count must be positive")
	}
	if groups, perGroup := o.Thread.GroupCount, o.Thread.ThreadCountPerGroup; groups > 0 && perGroup > 0 {
		total := groups * perGroup
		if o.Log.LoggerCount > total || o.Log.LoggerCount%groups != 0 || total%o.Log.LoggerCount != 0 {
			return errs.New(errs.InvalidLoggerCount, "engineconfig: log.logger_count must divide total threads, be a multiple of group_count, and not exceed total threads")
		}
	}
	if o.Log.BufferSizeBytes <= 0 {
		return errs.New(errs.FatalInternal, "engineconfig: log.buffer_size_bytes must be positive")
	}
	if o.Log.EpochAdvanceMS <= 0 {
		return errs.New(errs.FatalInternal, "engineconfig: log.epoch_advance_interval_ms must be positive")
	}
	return nil
}
