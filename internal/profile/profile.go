// Package profile persists named server profiles and tracks the current one.
package profile

import (
	"regexp"
	"strings"
	"time"
)

const (
	DefaultName      = "Default Server"
	DefaultDirName   = "server"
	NamedDirName     = "server-profiles"
	UnknownVersion   = "Unknown"
	DefaultMinMemory = "2G"
	DefaultMaxMemory = "4G"
	ArtifactName     = "server.jar"
)

// Profile is one configured server instance. ServerDirectory owns every file
// the server writes and is the working directory of the child process.
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

var memoryRe = regexp.MustCompile(`^[1-9]\d*[KkMmGg]?$`)

// ValidMemory reports whether s is a JVM heap size such as "512M" or "4G".
func ValidMemory(s string) bool { return memoryRe.MatchString(s) }

// HeapFlags returns the -Xms/-Xmx pair for p, falling back to the defaults
// for unset or malformed sizes.
func (p Profile) HeapFlags() []string {
	minMem, maxMem := p.MinMemory, p.MaxMemory
	if !ValidMemory(minMem) {
		minMem = DefaultMinMemory
	}
	if !ValidMemory(maxMem) {
		maxMem = DefaultMaxMemory
	}
	return []string{"-Xms" + minMem, "-Xmx" + maxMem}
}

// SanitizeDirName turns a display name into a directory name: characters
// invalid in file names split the name, the pieces are joined with '_' and
// trailing dots are trimmed.
func SanitizeDirName(name string) string {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r)
	})
	out := strings.TrimRight(strings.Join(fields, "_"), ".")
	out = strings.TrimSpace(out)
	if out == "" || out == "." || out == ".." {
		return "profile"
	}
	return out
}
