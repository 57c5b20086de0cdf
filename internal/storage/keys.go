package storage

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// ScopeEnv names the environment variable that pins the ephemeral scope.
const ScopeEnv = "KBADMIN_SCOPE"

// Namespace derives the storage key namespace for an identity provider URL.
// Trailing slashes and letter case of the scheme/host do not change the
// result, so "https://Admin.example.com/" and "https://admin.example.com"
// share records.
func Namespace(providerURL string) string {
	normalized := strings.TrimRight(strings.TrimSpace(providerURL), "/")
	if i := strings.Index(normalized, "://"); i >= 0 {
		rest := normalized[i+3:]
		host, path, _ := strings.Cut(rest, "/")
		normalized = strings.ToLower(normalized[:i+3]+host) + pathSuffix(path)
	}
	sum := blake3.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

func pathSuffix(path string) string {
	if path == "" {
		return ""
	}
	return "/" + path
}

// DefaultScope identifies the current terminal session. KBADMIN_SCOPE wins;
// otherwise the parent process (the interactive shell) is used, so a new
// shell starts with an empty ephemeral tier.
func DefaultScope() string {
	if s := strings.TrimSpace(os.Getenv(ScopeEnv)); s != "" {
		return s
	}
	return "ppid-" + strconv.Itoa(os.Getppid())
}

// EphemeralDir returns the directory holding ephemeral records for scope.
// An empty base uses a per-user directory under the system temp dir.
func EphemeralDir(base, scope string) string {
	if base == "" {
		base = filepath.Join(os.TempDir(), "kbadmin-"+strconv.Itoa(os.Getuid()))
	}
	return filepath.Join(base, sanitizeScope(scope))
}

// DurableDir returns the directory holding durable records. An empty base
// uses the user config dir.
func DurableDir(base string) string {
	if base != "" {
		return base
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "kbadmin", "sessions")
	}
	return filepath.Join(".kbadmin", "sessions")
}

func sanitizeScope(scope string) string {
	var b strings.Builder
	for _, r := range scope {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
