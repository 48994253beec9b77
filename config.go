package ccrelay

// Config holds the bootstrap configuration needed to start a proxy process:
// where to listen, how to reach its two databases, and the defaults applied
// when the config store has no TimeoutSettings/GatewaySettings row yet. The
// durable, admin-mutable routing state (Provider, ModelMap, TimeoutSettings,
// GatewaySettings) lives in the config store (internal/configstore), not here.
type Config struct {
	// ListenAddr is the address the CLI-facing HTTP server binds, e.g. ":8080".
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// ConfigDSN is the data source name for the config database: a
	// "postgres://" or "postgresql://" URL selects Postgres; anything else is
	// handed to the SQLite driver as-is (a file path or SQLite DSN).
	ConfigDSN string `json:"config_dsn" yaml:"config_dsn"`

	// LogDSN is the data source name for the log/stats database. May point at
	// the same backend as ConfigDSN but is always a distinct *sql.DB handle.
	LogDSN string `json:"log_dsn" yaml:"log_dsn"`

	// AdminAddr is accepted in the config file but not read by ccrelayd: the
	// admin facade is always mounted on ListenAddr under /admin, and no
	// separate admin listener is started.
	AdminAddr string `json:"admin_addr,omitempty" yaml:"admin_addr,omitempty"`

	// AdminToken authenticates the admin facade (§12.2). Required to start the
	// admin facade; the CLI-forwarding surface never checks it.
	AdminToken string `json:"admin_token" yaml:"admin_token"`

	// LogLevel is one of debug/info/warn/error (default info).
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`

	// LogFormat is "json" (default) or "text".
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"`

	// CORSOrigins lists allowed origins for the admin API. Empty allows any
	// origin ("*").
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// Defaults applied when the corresponding settings row is absent from the
	// config store (§6 "Defaults").
	Defaults DefaultSettings `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// DefaultSettings mirrors the fallback values named in §6 of the spec, used
// when TimeoutSettings/GatewaySettings singleton rows have not been created.
type DefaultSettings struct {
	StreamFirstByteTimeoutSeconds int  `json:"stream_first_byte_timeout,omitempty" yaml:"stream_first_byte_timeout,omitempty"`
	StreamIdleTimeoutSeconds      int  `json:"stream_idle_timeout,omitempty" yaml:"stream_idle_timeout,omitempty"`
	NonStreamTimeoutSeconds       int  `json:"non_stream_timeout,omitempty" yaml:"non_stream_timeout,omitempty"`
	DebugLog                      bool `json:"debug_log,omitempty" yaml:"debug_log,omitempty"`
	FailureThreshold              int  `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	BlacklistMinutes              int  `json:"blacklist_minutes,omitempty" yaml:"blacklist_minutes,omitempty"`
}

// withDefaults returns cfg with zero-valued fields filled in from §6.
func (cfg DefaultSettings) withDefaults() DefaultSettings {
	if cfg.StreamFirstByteTimeoutSeconds <= 0 {
		cfg.StreamFirstByteTimeoutSeconds = 30
	}
	if cfg.StreamIdleTimeoutSeconds <= 0 {
		cfg.StreamIdleTimeoutSeconds = 60
	}
	if cfg.NonStreamTimeoutSeconds <= 0 {
		cfg.NonStreamTimeoutSeconds = 120
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.BlacklistMinutes <= 0 {
		cfg.BlacklistMinutes = 10
	}
	return cfg
}

// ValidateConfig validates a Config for correctness before the process
// attempts to open either database handle.
func ValidateConfig(cfg Config) error {
	if cfg.ListenAddr == "" {
		return errListenAddrRequired
	}
	if cfg.ConfigDSN == "" {
		return errConfigDSNRequired
	}
	if cfg.LogDSN == "" {
		return errLogDSNRequired
	}
	return nil
}
