package directory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"agentlink/internal/domain"
)

// reloadDebounce coalesces bursts of writes into one reload.
const reloadDebounce = 100 * time.Millisecond

// StaticFile loads operator-maintained agents from a YAML file:
//
//	agents:
//	  - id: furniture-expert
//	    endpoint: https://furniture.example.com/a2a
//	    description: Recommends furniture
//
// A bare top-level list is accepted too.
type StaticFile struct {
	path   string
	logger *slog.Logger
}

// NewStaticFile creates a loader for path.
func NewStaticFile(path string, logger *slog.Logger) *StaticFile {
	return &StaticFile{path: path, logger: logger}
}

// Path returns the watched file path.
func (f *StaticFile) Path() string { return f.path }

// Load reads and parses the file. A missing file yields no agents.
func (f *StaticFile) Load() ([]domain.AgentRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read static agents: %w", err)
	}
	return parseStatic(data)
}

func parseStatic(data []byte) ([]domain.AgentRecord, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse static agents: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]

	var recs []domain.AgentRecord
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&recs); err != nil {
			return nil, fmt.Errorf("parse static agents: %w", err)
		}
	case yaml.MappingNode:
		var wrapped struct {
			Agents []domain.AgentRecord `yaml:"agents"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("parse static agents: %w", err)
		}
		recs = wrapped.Agents
	default:
		return nil, fmt.Errorf("parse static agents: want a list or an agents: mapping")
	}
	return recs, nil
}

// Watch reloads the file on change and hands the result to apply until ctx
// is done. Parse errors are logged and the previous set stays in effect.
// The directory is watched rather than the file so editors that replace the
// file on save are handled.
func (f *StaticFile) Watch(ctx context.Context, apply func([]domain.AgentRecord)) error {
	abs, err := filepath.Abs(f.path)
	if err != nil {
		return fmt.Errorf("resolve static agents path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go f.watchLoop(ctx, watcher, filepath.Base(abs), apply)
	f.logger.Info("watching static agents file", "path", abs)
	return nil
}

func (f *StaticFile) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, name string, apply func([]domain.AgentRecord)) {
	defer watcher.Close()

	var debounce *time.Timer
	reload := func() {
		recs, err := f.Load()
		if err != nil {
			f.logger.Warn("static agents reload failed", "path", f.path, "error", err)
			return
		}
		apply(recs)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("static agents watcher error", "error", err)
		}
	}
}
