package profile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const eulaFile = "eula.txt"

// AcceptEULA writes eula=true into dir/eula.txt, replacing any previous
// answer.
func AcceptEULA(dir string) error {
	body := fmt.Sprintf("#By changing the setting below to TRUE you are indicating your agreement to the EULA (https://aka.ms/MinecraftEULA).\n#%s\neula=true\n",
		time.Now().Format(time.UnixDate))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, eulaFile), []byte(body), 0o644)
}

// EULAAccepted reports whether dir/eula.txt contains eula=true.
func EULAAccepted(dir string) bool {
	f, err := os.Open(filepath.Join(dir, eulaFile)) // #nosec G304 profile directory
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if ok && strings.TrimSpace(k) == "eula" {
			return strings.EqualFold(strings.TrimSpace(v), "true")
		}
	}
	return false
}
