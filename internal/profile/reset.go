package profile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// resetFiles are generated files removed along with the worlds.
var resetFiles = []string{"eula.txt", "usercache.json"}

// ResetWorldState deletes every world* directory and the generated files
// that tie a server directory to a version. Configuration is kept. It
// returns the removed paths; a failure stops at the first error.
func ResetWorldState(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(strings.ToLower(e.Name()), "world") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	for _, name := range resetFiles {
		p := filepath.Join(dir, name)
		err := os.Remove(p)
		switch {
		case err == nil:
			removed = append(removed, p)
		case !errors.Is(err, os.ErrNotExist):
			return removed, err
		}
	}
	return removed, nil
}
