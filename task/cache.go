package task

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
)

// CachedTask is a resolved task: its manifest plus the directory holding
// its files. Builtin stubs have an empty Dir.
type CachedTask struct {
	Name     string
	Version  string
	Dir      string
	Manifest *Manifest
}

// EntryPath resolves the task's primary execution target within its
// directory, or "" for builtin stubs.
func (t *CachedTask) EntryPath() string {
	if t.Dir == "" {
		return ""
	}
	var entry *Execution
	if e := t.Manifest.NodeEntry(); e != nil {
		entry = e
	} else if e := t.Manifest.PowerShellEntry(); e != nil {
		entry = e
	}
	if entry == nil {
		return ""
	}
	return filepath.Join(t.Dir, entry.Target)
}

// Cache resolves Name@Major task references against an in-memory map,
// the on-disk cache, and builtin stubs, in that order.
type Cache struct {
	dir string

	mu     sync.Mutex
	loaded map[string]*CachedTask
}

// NewCache returns a cache rooted at the user cache directory
// (~/.cache/roxid/tasks by XDG convention).
func NewCache() *Cache {
	return NewCacheAt(filepath.Join(xdg.CacheHome, "roxid", "tasks"))
}

// NewCacheAt returns a cache rooted at dir.
func NewCacheAt(dir string) *Cache {
	return &Cache{
		dir:    dir,
		loaded: map[string]*CachedTask{},
	}
}

// Dir returns the on-disk cache root.
func (c *Cache) Dir() string { return c.dir }

// ParseRef splits a "Name@Major" task reference.
func ParseRef(ref string) (string, string, error) {
	name, version, found := strings.Cut(ref, "@")
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if !found || name == "" || version == "" {
		return "", "", fmt.Errorf("invalid task reference '%s': expected Name@Major (e.g. Bash@3)", ref)
	}
	return name, version, nil
}

// Get resolves a task reference.
func (c *Cache) Get(ref string) (*CachedTask, error) {
	name, version, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if cached, ok := c.loaded[ref]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	task, err := c.loadFromDisk(name, version)
	if err != nil {
		return nil, err
	}
	if task == nil {
		if manifest := builtinManifest(name, version); manifest != nil {
			task = &CachedTask{Name: name, Version: version, Manifest: manifest}
		}
	}
	if task == nil {
		return nil, fmt.Errorf("task '%s' not found in cache (%s) and is not a builtin", ref, c.dir)
	}

	c.mu.Lock()
	c.loaded[ref] = task
	c.mu.Unlock()
	return task, nil
}

// Install copies a task.json manifest into the on-disk cache, creating
// the version directory.
func (c *Cache) Install(name, version string, manifest []byte) error {
	if _, err := ParseManifest(manifest); err != nil {
		return err
	}
	dir := c.taskDir(name, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create task cache dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "task.json"), manifest, 0o644); err != nil {
		return fmt.Errorf("write task manifest: %w", err)
	}
	c.mu.Lock()
	delete(c.loaded, name+"@"+version)
	c.mu.Unlock()
	return nil
}

// List enumerates the name/version pairs present on disk.
func (c *Cache) List() ([][2]string, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tasks [][2]string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			continue
		}
		for _, v := range versions {
			if v.IsDir() {
				tasks = append(tasks, [2]string{entry.Name(), v.Name()})
			}
		}
	}
	return tasks, nil
}

// Clear removes the entire on-disk cache.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.loaded = map[string]*CachedTask{}
	c.mu.Unlock()
	return os.RemoveAll(c.dir)
}

// ClearTask removes one cached task version.
func (c *Cache) ClearTask(name, version string) error {
	c.mu.Lock()
	delete(c.loaded, name+"@"+version)
	c.mu.Unlock()
	return os.RemoveAll(c.taskDir(name, version))
}

func (c *Cache) taskDir(name, version string) string {
	return filepath.Join(c.dir, name, version)
}

func (c *Cache) loadFromDisk(name, version string) (*CachedTask, error) {
	dir := c.taskDir(name, version)
	manifestPath := filepath.Join(dir, "task.json")
	if _, err := os.Stat(manifestPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("task '%s@%s': %w", name, version, err)
	}
	return &CachedTask{Name: name, Version: version, Dir: dir, Manifest: manifest}, nil
}
