package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/craftd/internal/errdefs"
)

const (
	profilesFile = "profiles.json"
	currentFile  = "current_profile"
)

// Store keeps the profile list in <dir>/profiles.json and the id of the
// current profile in <dir>/current_profile. There is always at least one
// profile and exactly one is current.
type Store struct {
	mu       sync.RWMutex
	dir      string
	profiles []Profile
	current  string
	logger   *slog.Logger
	now      func() time.Time
}

// Open loads the store under dir, creating a default profile when the list
// is missing, empty or unreadable.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	s := &Store{dir: dir, logger: logger, now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) load() error {
	data, err := os.ReadFile(filepath.Join(s.dir, profilesFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s.bootstrap()
	case err != nil:
		return fmt.Errorf("read profiles: %w", err)
	}
	var list []Profile
	if err := json.Unmarshal(data, &list); err != nil {
		bak := filepath.Join(s.dir, profilesFile+".corrupt")
		_ = os.Rename(filepath.Join(s.dir, profilesFile), bak)
		s.logger.Warn("profile list unreadable, starting over", "backup", bak, "error", err)
		return s.bootstrap()
	}
	if len(list) == 0 {
		return s.bootstrap()
	}
	for i := range list {
		normalize(&list[i])
	}
	s.profiles = list
	s.current = list[0].ID
	if b, err := os.ReadFile(filepath.Join(s.dir, currentFile)); err == nil {
		id := strings.TrimSpace(string(b))
		if s.indexOf(id) >= 0 {
			s.current = id
		}
	}
	return nil
}

func (s *Store) bootstrap() error {
	dir := filepath.Join(s.dir, DefaultDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create default profile dir: %w", err)
	}
	p := s.newProfile(DefaultName, UnknownVersion, "Default server profile", dir)
	if err := s.commit([]Profile{p}, p.ID); err != nil {
		return err
	}
	s.logger.Info("created default profile", "id", p.ID, "dir", dir)
	return nil
}

func (s *Store) newProfile(name, version, description, dir string) Profile {
	now := s.now()
	return Profile{
		ID:              uuid.NewString(),
		Name:            name,
		Version:         version,
		ServerDirectory: dir,
		ServerJarPath:   filepath.Join(dir, ArtifactName),
		Description:     description,
		MinMemory:       DefaultMinMemory,
		MaxMemory:       DefaultMaxMemory,
		Created:         now,
		LastModified:    now,
	}
}

func normalize(p *Profile) {
	if p.MinMemory == "" {
		p.MinMemory = DefaultMinMemory
	}
	if p.MaxMemory == "" {
		p.MaxMemory = DefaultMaxMemory
	}
	if p.Version == "" {
		p.Version = UnknownVersion
	}
	if p.ServerJarPath == "" && p.ServerDirectory != "" {
		p.ServerJarPath = filepath.Join(p.ServerDirectory, ArtifactName)
	}
}

// commit persists list and current, then adopts them. On a write failure
// the in-memory state is left untouched.
func (s *Store) commit(list []Profile, current string) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(s.dir, profilesFile), data); err != nil {
		return fmt.Errorf("save profiles: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, currentFile), []byte(current+"\n")); err != nil {
		return fmt.Errorf("save current profile: %w", err)
	}
	s.profiles = list
	s.current = current
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, p := range s.profiles {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) nameTaken(name, exceptID string) bool {
	for _, p := range s.profiles {
		if p.ID != exceptID && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// freeDir returns a directory under <dir>/server-profiles for base that no
// profile owns and that does not exist yet. Directories of deleted profiles
// stay on disk, so they are skipped too.
func (s *Store) freeDir(base string) string {
	parent := filepath.Join(s.dir, NamedDirName)
	for n := 1; ; n++ {
		name := base
		if n > 1 {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		dir := filepath.Join(parent, name)
		if s.dirOwned(dir) {
			continue
		}
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		return dir
	}
}

func (s *Store) dirOwned(dir string) bool {
	for _, p := range s.profiles {
		if strings.EqualFold(filepath.Clean(p.ServerDirectory), filepath.Clean(dir)) {
			return true
		}
	}
	return false
}

func (s *Store) cloneList() []Profile {
	out := make([]Profile, len(s.profiles))
	copy(out, s.profiles)
	return out
}

// List returns a copy of all profiles in creation order.
func (s *Store) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneList()
}

func (s *Store) Current() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[s.indexOf(s.current)]
}

func (s *Store) Get(id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return Profile{}, errdefs.New("profile.Get", errdefs.KindNotFound, "profile %q not found", id)
	}
	return s.profiles[i], nil
}

// Find returns the profile whose id or name (case-insensitive) is ref.
func (s *Store) Find(ref string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(ref); i >= 0 {
		return s.profiles[i], nil
	}
	for _, p := range s.profiles {
		if strings.EqualFold(p.Name, ref) {
			return p, nil
		}
	}
	return Profile{}, errdefs.New("profile.Find", errdefs.KindNotFound, "profile %q not found", ref)
}

// Create adds a profile whose directory is the sanitized name under
// <dir>/server-profiles. Names must be non-empty and unique ignoring case.
func (s *Store) Create(name, version, description string) (Profile, error) {
	const op = "profile.Create"
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, errdefs.New(op, errdefs.KindInvalidOperation, "profile name cannot be empty")
	}
	if strings.TrimSpace(version) == "" {
		version = UnknownVersion
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(name, "") {
		return Profile{}, errdefs.New(op, errdefs.KindInvalidOperation, "a profile named %q already exists", name)
	}
	dir := s.freeDir(SanitizeDirName(name))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Profile{}, fmt.Errorf("create profile dir: %w", err)
	}
	p := s.newProfile(name, strings.TrimSpace(version), description, dir)
	if err := s.commit(append(s.cloneList(), p), s.current); err != nil {
		return Profile{}, err
	}
	s.logger.Info("profile created", "id", p.ID, "name", p.Name, "version", p.Version)
	return p, nil
}

// Delete removes a profile but keeps its directory on disk. Deleting the
// current profile makes the first remaining one current. The last profile
// cannot be deleted.
func (s *Store) Delete(id string) error {
	const op = "profile.Delete"
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return errdefs.New(op, errdefs.KindNotFound, "profile %q not found", id)
	}
	if len(s.profiles) == 1 {
		return errdefs.From(op, errdefs.ErrLastProfile, nil)
	}
	list := append(s.cloneList()[:i:i], s.profiles[i+1:]...)
	current := s.current
	if current == id {
		current = list[0].ID
	}
	if err := s.commit(list, current); err != nil {
		return err
	}
	s.logger.Info("profile deleted", "id", id, "current", current)
	return nil
}

func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(id) < 0 {
		return errdefs.New("profile.SetCurrent", errdefs.KindNotFound, "profile %q not found", id)
	}
	return s.commit(s.cloneList(), id)
}

// Update replaces the editable fields of the stored profile with p's: name,
// version, description and memory bounds. LastModified is refreshed.
func (s *Store) Update(p Profile) (Profile, error) {
	const op = "profile.Update"
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(p.ID)
	if i < 0 {
		return Profile{}, errdefs.New(op, errdefs.KindNotFound, "profile %q not found", p.ID)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return Profile{}, errdefs.New(op, errdefs.KindInvalidOperation, "profile name cannot be empty")
	}
	if s.nameTaken(name, p.ID) {
		return Profile{}, errdefs.New(op, errdefs.KindInvalidOperation, "a profile named %q already exists", name)
	}
	for _, m := range []string{p.MinMemory, p.MaxMemory} {
		if m != "" && !ValidMemory(m) {
			return Profile{}, errdefs.New(op, errdefs.KindInvalidOperation, "invalid memory size %q", m)
		}
	}
	list := s.cloneList()
	cur := &list[i]
	cur.Name = name
	if v := strings.TrimSpace(p.Version); v != "" {
		cur.Version = v
	}
	cur.Description = p.Description
	if p.MinMemory != "" {
		cur.MinMemory = p.MinMemory
	}
	if p.MaxMemory != "" {
		cur.MaxMemory = p.MaxMemory
	}
	cur.LastModified = s.now()
	if err := s.commit(list, s.current); err != nil {
		return Profile{}, err
	}
	return list[i], nil
}

// SetVersion records a new declared version for id.
func (s *Store) SetVersion(id, version string) (Profile, error) {
	p, err := s.Get(id)
	if err != nil {
		return Profile{}, err
	}
	p.Version = version
	return s.Update(p)
}
