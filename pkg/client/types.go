package client

import "time"

// Status mirrors GET /status.
type Status struct {
	ProfileID string     `json:"profile_id"`
	Profile   string     `json:"profile"`
	Version   string     `json:"version"`
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	Java      string     `json:"java,omitempty"`
	StartedAt time.Time  `json:"started_at,omitempty"`
	StoppedAt time.Time  `json:"stopped_at,omitempty"`
	ExitError string     `json:"exit_error,omitempty"`
	LastStop  string     `json:"last_stop,omitempty"`
	Resources *Resources `json:"resources,omitempty"`
}

// Resources is the latest CPU/memory sample of the running server.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	NumThreads int32     `json:"num_threads"`
	At         time.Time `json:"at"`
}

// FetchRequest asks the daemon to place a server jar. An empty To targets
// the current profile.
type FetchRequest struct {
	Version   string `json:"version"`
	Overwrite bool   `json:"overwrite,omitempty"`
	To        string `json:"to,omitempty"`
}

type FetchResult struct {
	Version   string `json:"version"`
	Path      string `json:"path"`
	Skipped   bool   `json:"skipped"`
	FromCache bool   `json:"from_cache"`
	Cached    bool   `json:"cached"`
	Bytes     int64  `json:"bytes"`
	SHA256    string `json:"sha256,omitempty"`
	Message   string `json:"message"`
}

type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Advice mirrors GET /advise. Transition is "upgrade", "downgrade" or "same".
type Advice struct {
	Transition          string    `json:"transition"`
	Magnitude           int       `json:"magnitude"`
	RequiredMajor       int       `json:"required_major"`
	Warnings            []Warning `json:"warnings,omitempty"`
	RecommendNewProfile bool      `json:"recommend_new_profile"`
}

type Runtime struct {
	Major   int    `json:"major"`
	Path    string `json:"path"`
	Bundled bool   `json:"bundled"`
	Source  string `json:"source"`
}

// Compat mirrors GET /compat.
type Compat struct {
	DeclaredVersion string   `json:"declared_version"`
	DetectedVersion string   `json:"detected_version,omitempty"`
	DetectedBy      string   `json:"detected_by"`
	Version         string   `json:"version"`
	RequiredMajor   int      `json:"required_major"`
	Runtime         *Runtime `json:"runtime,omitempty"`
	Compatible      bool     `json:"compatible"`
	ArtifactPresent bool     `json:"artifact_present"`
	Warnings        []string `json:"warnings,omitempty"`
}

type Profile struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Version         string    `json:"version"`
	ServerDirectory string    `json:"server_directory"`
	ServerJarPath   string    `json:"server_jar_path"`
	Description     string    `json:"description,omitempty"`
	MinMemory       string    `json:"min_memory"`
	MaxMemory       string    `json:"max_memory"`
	Created         time.Time `json:"created"`
	LastModified    time.Time `json:"last_modified"`
}

type ProfileList struct {
	Current  string    `json:"current"`
	Profiles []Profile `json:"profiles"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
