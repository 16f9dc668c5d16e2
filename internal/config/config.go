// Package config loads the environment variables named in spec.md §6,
// with an optional vartex.toml file overlay (github.com/naoina/toml, the
// format the teacher's own node config loader uses) underneath them. Env
// vars always win over file values.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/alecthomas/units"
	"github.com/naoina/toml"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
)

// PollInterval is POLLTIME_DELAY_SECONDS, a compile-time constant per spec.md §6.
const PollInterval = 30 * time.Second

// Config holds every tunable named in spec.md §6 plus this expansion's
// DOCTOR_CACHE_SIZE (internal/doctor's fastcache sizing).
type Config struct {
	CassandraContactPoints []string `toml:"cassandra_contact_points"`
	ParallelWorkers        int      `toml:"parallel_workers"`
	DBTimeout              time.Duration `toml:"db_timeout"`
	DevelopmentSyncLength  *int     `toml:"development_sync_length"`
	DoctorCacheSizeBytes   int      `toml:"doctor_cache_size"`

	NodeBaseURL  string `toml:"node_base_url"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	RedisAddr    string `toml:"redis_addr"`
}

// fileOverlay is the subset of Config that can come from vartex.toml, using
// string/raw forms naoina/toml can decode directly.
type fileOverlay struct {
	CassandraContactPoints []string `toml:"cassandra_contact_points"`
	ParallelWorkers        int      `toml:"parallel_workers"`
	DBTimeoutSeconds       int      `toml:"db_timeout_seconds"`
	DoctorCacheSize        string   `toml:"doctor_cache_size"`
	NodeBaseURL            string   `toml:"node_base_url"`
	KafkaBrokers           []string `toml:"kafka_brokers"`
	RedisAddr              string   `toml:"redis_addr"`
}

// Load builds a Config from an optional toml path (pass "" to skip) and the
// process environment, with env vars taking precedence.
func Load(tomlPath string) (*Config, error) {
	cfg := &Config{
		CassandraContactPoints: []string{"localhost:9042"},
		ParallelWorkers:        1,
		DBTimeout:              30 * time.Second,
		DoctorCacheSizeBytes:   defaultDoctorCacheSize(),
	}

	if tomlPath != "" {
		f, err := os.Open(tomlPath)
		if err == nil {
			defer f.Close()
			var ov fileOverlay
			if err := toml.NewDecoder(f).Decode(&ov); err != nil {
				return nil, errors.Wrapf(err, "parsing config file %s", tomlPath)
			}
			applyOverlay(cfg, ov)
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "opening config file %s", tomlPath)
		}
	}

	if v := os.Getenv("CASSANDRA_CONTACT_POINTS"); v != "" {
		var pts []string
		if err := json.Unmarshal([]byte(v), &pts); err != nil {
			return nil, errors.Wrap(err, "CASSANDRA_CONTACT_POINTS is not a JSON array")
		}
		cfg.CassandraContactPoints = pts
	}

	if v := os.Getenv("PARALLEL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.Errorf("PARALLEL_WORKERS must be a positive integer, got %q", v)
		}
		cfg.ParallelWorkers = n
	}

	if v := os.Getenv("DB_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Errorf("DB_TIMEOUT must be an integer number of seconds, got %q", v)
		}
		cfg.DBTimeout = time.Duration(n) * time.Second
	}

	// DEVELOPMENT_SYNC_LENGTH=NaN (or any non-integer) is the fatal
	// configuration case from spec.md §7 item 6: exit 1 immediately.
	if v := os.Getenv("DEVELOPMENT_SYNC_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Errorf("DEVELOPMENT_SYNC_LENGTH must be an integer, got %q: %v", v, err)
		}
		cfg.DevelopmentSyncLength = &n
	}

	if v := os.Getenv("DOCTOR_CACHE_SIZE"); v != "" {
		sz, err := units.ParseBase2Bytes(v)
		if err != nil {
			return nil, errors.Wrapf(err, "DOCTOR_CACHE_SIZE %q", v)
		}
		cfg.DoctorCacheSizeBytes = int(sz)
	}

	if v := os.Getenv("NODE_BASE_URL"); v != "" {
		cfg.NodeBaseURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		var brokers []string
		if err := json.Unmarshal([]byte(v), &brokers); err == nil {
			cfg.KafkaBrokers = brokers
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}

	return cfg, nil
}

func applyOverlay(cfg *Config, ov fileOverlay) {
	if len(ov.CassandraContactPoints) > 0 {
		cfg.CassandraContactPoints = ov.CassandraContactPoints
	}
	if ov.ParallelWorkers > 0 {
		cfg.ParallelWorkers = ov.ParallelWorkers
	}
	if ov.DBTimeoutSeconds > 0 {
		cfg.DBTimeout = time.Duration(ov.DBTimeoutSeconds) * time.Second
	}
	if ov.DoctorCacheSize != "" {
		if sz, err := units.ParseBase2Bytes(ov.DoctorCacheSize); err == nil {
			cfg.DoctorCacheSizeBytes = int(sz)
		}
	}
	if ov.NodeBaseURL != "" {
		cfg.NodeBaseURL = ov.NodeBaseURL
	}
	if len(ov.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = ov.KafkaBrokers
	}
	if ov.RedisAddr != "" {
		cfg.RedisAddr = ov.RedisAddr
	}
}

// defaultDoctorCacheSize sizes the Doctor's local existence cache (internal/doctor,
// VictoriaMetrics/fastcache) to 1/256th of total system memory, floored at 8MB.
func defaultDoctorCacheSize() int {
	total := memory.TotalMemory()
	sz := int(total / 256)
	const floor = 8 << 20
	if sz < floor {
		return floor
	}
	return sz
}
