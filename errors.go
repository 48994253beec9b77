package ccrelay

import "errors"

// Bootstrap configuration validation errors. These guard process startup,
// before either database handle is opened; they are distinct from the
// per-request error taxonomy in internal/forwarder.
var (
	errListenAddrRequired = errors.New("listen_addr is required")
	errConfigDSNRequired  = errors.New("config_dsn is required")
	errLogDSNRequired     = errors.New("log_dsn is required")
)
