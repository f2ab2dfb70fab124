// Package config knows how to read and hot-reload config.yaml: read file,
// sigs.k8s.io/yaml.Unmarshal, validate, plus fsnotify-based reload.
package config

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"sigs.k8s.io/yaml"
)

// Project is one configured GitHub repository Hoff gatekeeps merges for.
type Project struct {
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	TargetBranch   string `json:"target_branch"`
	TestBranch     string `json:"test_branch"`
	MergeCommand   string `json:"merge_command"` // e.g. "@bot", matched against "<command> merge"
	StateDir       string `json:"state_dir"`      // directory holding project.json
	WorkingCopyDir string `json:"working_copy_dir"`
}

// Config is the full set of daemon-level and per-project settings loaded
// from config.yaml.
type Config struct {
	Port          int       `json:"port"`
	ReadOnly      bool      `json:"read_only"`
	QueueCapacity int       `json:"queue_capacity"`
	Projects      []Project `json:"projects"`
}

// defaultQueueCapacity is the default bounded queue size for a project
// whose config.yaml does not set one explicitly.
const defaultQueueCapacity = 10

// Load reads and validates path, applying defaults for anything left unset.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling %s", path)
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func validate(c *Config) error {
	if c.QueueCapacity < 1 {
		return fmt.Errorf("config: queue_capacity must be >= 1, got %d", c.QueueCapacity)
	}
	if len(c.Projects) == 0 {
		return fmt.Errorf("config: at least one project must be configured")
	}
	seen := make(map[string]bool, len(c.Projects))
	for _, p := range c.Projects {
		if p.Owner == "" || p.Repo == "" {
			return fmt.Errorf("config: project %s/%s: owner and repo are required", p.Owner, p.Repo)
		}
		if p.TargetBranch == "" {
			return fmt.Errorf("config: project %s/%s: target_branch is required", p.Owner, p.Repo)
		}
		key := p.Owner + "/" + p.Repo
		if seen[key] {
			return fmt.Errorf("config: project %s configured more than once", key)
		}
		seen[key] = true
	}
	return nil
}

// Agent holds the most recently loaded Config and hot-reloads it on file
// change: a guarded pointer swapped on each successful reload, left
// untouched on a failed one.
type Agent struct {
	path string
	log  *logrus.Entry

	mu      sync.RWMutex
	current *Config
}

// NewAgent loads path once and returns an Agent ready to Watch.
func NewAgent(path string, log *logrus.Entry) (*Agent, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Agent{path: path, log: log.WithField("component", "config"), current: c}, nil
}

// Config returns the most recently loaded Config.
func (a *Agent) Config() *Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Watch blocks, reloading Config on every write to path, until ctx is
// done. A reload that fails validation is logged and the previous Config
// is kept; a config.yaml typo must never crash a running daemon.
func (a *Agent) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config: creating watcher")
	}
	defer watcher.Close()
	if err := watcher.Add(a.path); err != nil {
		return errors.Wrapf(err, "config: watching %s", a.path)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, err := Load(a.path)
			if err != nil {
				a.log.WithError(err).Error("config reload failed, keeping previous config")
				continue
			}
			a.mu.Lock()
			a.current = next
			a.mu.Unlock()
			a.log.Info("config reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.WithError(err).Warn("config watcher error")
		}
	}
}
