package engine

// Process is a single process entry as reported by the media engine. The
// engine owns the config lifecycle once submitted; this layer only reads the
// fields it needs for linkage and display.
type Process struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type,omitempty"`
	Reference string                 `json:"reference"`
	State     *ProcessState          `json:"state,omitempty"`
	Config    *ProcessConfig         `json:"config,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ProcessConfig is the engine-defined process description submitted on
// create/update.
type ProcessConfig struct {
	ID                    string          `json:"id"`
	Type                  string          `json:"type"`
	Reference             string          `json:"reference"`
	Input                 []ProcessIO     `json:"input"`
	Output                []ProcessOutput `json:"output"`
	Options               []string        `json:"options"`
	Reconnect             bool            `json:"reconnect"`
	ReconnectDelaySeconds int             `json:"reconnect_delay_seconds"`
	Autostart             bool            `json:"autostart"`
	StaleTimeoutSeconds   int             `json:"stale_timeout_seconds"`
}

// ProcessIO describes one input leg of a process.
type ProcessIO struct {
	ID      string   `json:"id"`
	Address string   `json:"address"`
	Options []string `json:"options"`
}

// ProcessOutput describes one output leg of a process, including filesystem
// cleanup rules applied by the engine when the process is removed.
type ProcessOutput struct {
	ID      string        `json:"id"`
	Address string        `json:"address"`
	Options []string      `json:"options"`
	Cleanup []CleanupRule `json:"cleanup,omitempty"`
}

// CleanupRule bounds artifacts a process writes into an engine filesystem.
type CleanupRule struct {
	Pattern       string `json:"pattern"`
	MaxFiles      int    `json:"max_files,omitempty"`
	MaxFileAge    int    `json:"max_file_age_seconds,omitempty"`
	PurgeOnDelete bool   `json:"purge_on_delete"`
}

// ProcessState is the runtime state snapshot for a process.
type ProcessState struct {
	Order     string  `json:"order"`
	Exec      string  `json:"exec"`
	RuntimeS  int64   `json:"runtime_seconds"`
	Reconnect int64   `json:"reconnect_seconds"`
	LastLog   string  `json:"last_logline,omitempty"`
	CPUUsage  float64 `json:"cpu_usage,omitempty"`
	MemoryB   uint64  `json:"memory_bytes,omitempty"`
}

// Running reports whether the process is currently executing.
func (s *ProcessState) Running() bool {
	if s == nil {
		return false
	}
	return s.Exec == "running"
}

// tokenPair matches the engine login/refresh response body.
type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
