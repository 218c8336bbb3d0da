// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// Loader loads a File from a YAML document on disk, expanding
// ${VAR} / ${VAR:-default} references against the process environment
// before unmarshalling, and can watch the file for changes.
type Loader struct {
	path string
}

func NewLoader(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("config: path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to resolve path %s: %w", path, err)
	}
	return &Loader{path: abs}, nil
}

// Load reads and validates the configuration file.
func (l *Loader) Load() (*File, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", l.path, err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, def := sub[1], ""
		if len(sub[2]) > 2 {
			def = sub[2][2:]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return def
	})

	cfg := &File{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal %s: %w", l.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch reloads the configuration whenever the underlying file changes,
// debouncing rapid writes and invoking onChange with the freshly loaded
// File. Watch blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, onChange func(*File)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	base := filepath.Base(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: failed to watch %s: %w", dir, err)
	}

	const debounce = 150 * time.Millisecond
	var timer *time.Timer

	reload := func() {
		cfg, err := l.Load()
		if err != nil {
			slog.Error("config: reload failed", "path", l.path, "error", err)
			return
		}
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "error", err)
		}
	}
}
