package plan

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadFromFile loads and validates a plan definition from a YAML file
func LoadFromFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	p.LoadedAt = time.Now()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadDir loads all plan definitions from a directory
func LoadDir(dir string) ([]*Plan, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans directory: %w", err)
	}

	var plans []*Plan
	for _, file := range files {
		ext := filepath.Ext(file.Name())
		if file.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(dir, file.Name())
		p, err := LoadFromFile(path)
		if err != nil {
			log.Printf("[Plan] Warning: failed to load %s: %v", file.Name(), err)
			continue
		}

		plans = append(plans, p)
		log.Printf("[Plan] Loaded plan: %s v%d (%s)", p.ID, p.Version, p.Name)
	}

	return plans, nil
}

// Store holds loaded plans keyed by id and version. Plans are immutable
// once loaded; reloading installs a new version alongside the old so that
// in-flight executions keep the version they started with.
type Store struct {
	mu    sync.RWMutex
	plans map[string]map[int]*Plan
}

// NewStore creates an empty plan store
func NewStore() *Store {
	return &Store{plans: make(map[string]map[int]*Plan)}
}

// Install adds a plan to the store, replacing the same id+version.
func (s *Store) Install(p *Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plans[p.ID] == nil {
		s.plans[p.ID] = make(map[int]*Plan)
	}
	s.plans[p.ID][p.Version] = p
}

// Get returns the plan with the given id and version.
func (s *Store) Get(id string, version int) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan not found: %s", id)
	}
	p, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("plan %s has no version %d", id, version)
	}
	return p, nil
}

// Latest returns the highest-versioned plan with the given id.
func (s *Store) Latest(id string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.plans[id]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("plan not found: %s", id)
	}
	best := -1
	for v := range versions {
		if v > best {
			best = v
		}
	}
	return versions[best], nil
}

// InstallDir loads every plan in dir into the store.
func (s *Store) InstallDir(dir string) error {
	plans, err := LoadDir(dir)
	if err != nil {
		return err
	}
	for _, p := range plans {
		s.Install(p)
	}
	return nil
}

// Watch reloads plan files as they change on disk until ctx is cancelled.
// Invalid files are logged and skipped; the previously installed version
// stays available.
func (s *Store) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create plan watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch plans directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				ext := filepath.Ext(event.Name)
				if ext != ".yaml" && ext != ".yml" {
					continue
				}
				p, err := LoadFromFile(event.Name)
				if err != nil {
					log.Printf("[Plan] Warning: reload of %s failed: %v", filepath.Base(event.Name), err)
					continue
				}
				s.Install(p)
				log.Printf("[Plan] Reloaded plan: %s v%d", p.ID, p.Version)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Plan] Watcher error: %v", err)
			}
		}
	}()

	return nil
}
