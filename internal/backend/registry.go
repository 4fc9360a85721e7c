package backend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"txpilot/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Spec describes one backend entry in the registry file. List order is the
// fallback priority order.
type Spec struct {
	Name           string `yaml:"name"`
	Kind           string `yaml:"kind"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// FileConfig maps the registry YAML file.
type FileConfig struct {
	Version  int    `yaml:"version"`
	Backends []Spec `yaml:"backends"`
}

const registrySchema = `{
  "type": "object",
  "required": ["backends"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "backends": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "kind", "url"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "kind": {"type": "string", "enum": ["relay", "rpc"]},
          "url": {"type": "string", "minLength": 1},
          "timeout_seconds": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`

var compiledRegistrySchema = jsonschema.MustCompileString("backends.schema.json", registrySchema)

// Registry owns the ordered backend chain and hot-reloads it when the
// registry file changes on disk.
type Registry struct {
	path string

	mu        sync.RWMutex
	chain     []Backend
	loadedAt  time.Time
	listeners []func([]Backend)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry loads the registry file and starts watching it for updates.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("backend registry requires path")
	}
	r := &Registry{path: path, done: make(chan struct{})}
	if err := r.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("backend registry watcher failed: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("backend registry watch failed: %w", err)
	}
	r.watcher = watcher
	go r.watchLoop()
	return r, nil
}

// NewStaticRegistry wraps a fixed chain, for tests and embedded use.
func NewStaticRegistry(chain ...Backend) *Registry {
	return &Registry{chain: chain, loadedAt: time.Now(), done: make(chan struct{})}
}

// Chain returns the current priority-ordered backend list.
func (r *Registry) Chain() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, len(r.chain))
	copy(out, r.chain)
	return out
}

// OnChange registers a listener invoked after each successful reload.
func (r *Registry) OnChange(fn func([]Backend)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) Close() error {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case evt, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(r.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.reload(); err != nil {
				logger.Errorf("backend registry reload failed: %v", err)
				continue
			}
			logger.Infof("backend registry reloaded from %s", r.path)
			r.notifyListeners()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("backend registry watch error: %v", err)
		}
	}
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read backend registry: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse backend registry: %w", err)
	}
	if err := validateRegistryDoc(doc); err != nil {
		return fmt.Errorf("backend registry schema: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("decode backend registry: %w", err)
	}

	chain := make([]Backend, 0, len(cfg.Backends))
	seen := make(map[string]bool)
	for _, spec := range cfg.Backends {
		if seen[spec.Name] {
			return fmt.Errorf("duplicate backend name %q", spec.Name)
		}
		seen[spec.Name] = true
		b, err := buildBackend(spec)
		if err != nil {
			return err
		}
		chain = append(chain, b)
	}

	r.mu.Lock()
	r.chain = chain
	r.loadedAt = time.Now()
	r.mu.Unlock()
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	listeners := make([]func([]Backend), len(r.listeners))
	copy(listeners, r.listeners)
	chain := make([]Backend, len(r.chain))
	copy(chain, r.chain)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(chain)
	}
}

func buildBackend(spec Spec) (Backend, error) {
	timeout := time.Duration(spec.TimeoutSeconds) * time.Second
	switch spec.Kind {
	case "relay":
		return NewRelay(spec.Name, spec.URL, timeout), nil
	case "rpc":
		return NewRPC(spec.Name, spec.URL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", spec.Kind)
	}
}

// validateRegistryDoc runs the JSON-schema check over the YAML document.
// The document is round-tripped through encoding/json so numeric types
// match what the schema library expects.
func validateRegistryDoc(doc any) error {
	buf, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var normalized any
	if err := json.Unmarshal(buf, &normalized); err != nil {
		return err
	}
	return compiledRegistrySchema.Validate(normalized)
}
