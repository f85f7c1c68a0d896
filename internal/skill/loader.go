package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadDir registers every *.yaml skill file in dir. A missing directory
// is not an error; the built-ins remain.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read skill directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		if err := r.loadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read skill file %s: %w", path, err)
	}
	var s Skill
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("failed to parse skill file %s: %w", path, err)
	}
	if s.Name == "" {
		return fmt.Errorf("skill file %s has no name", path)
	}
	r.Register(s)
	return nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Watch reloads skill files when they change on disk. It returns a stop
// function; parse failures are logged and the previous definition stays
// in effect.
func (r *Registry) Watch(dir string, logger *zap.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create skill watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch skill directory: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if !isYAML(ev.Name) {
					continue
				}
				if err := r.loadFile(ev.Name); err != nil {
					logger.Warn("skill reload failed", zap.String("file", ev.Name), zap.Error(err))
					continue
				}
				logger.Info("skill reloaded", zap.String("file", ev.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("skill watcher error", zap.Error(err))
			case <-done:
				return
			}
		}
	}()

	var once bool
	return func() {
		if !once {
			once = true
			close(done)
			watcher.Close()
		}
	}, nil
}
