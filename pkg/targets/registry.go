// Copyright 2016--2022 Lightbits Labs Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// you may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package targets

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/lightbitslabs/discovery-controller/pkg/metrics"
	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/sirupsen/logrus"
)

// Registry is the discovery log of a directory of targets files. It implements
// nvme.DiscoveryLog and is safe for concurrent use.
type Registry struct {
	dir       string
	serviceID string
	log       *logrus.Entry

	mu      sync.RWMutex
	files   map[string][]resolvedTarget
	entries []nvme.DiscoveryEntry
	genctr  uint64
}

// resolvedTarget pairs a target with its entry, resolved when its file was read.
type resolvedTarget struct {
	target Target
	entry  nvme.DiscoveryEntry
}

func NewRegistry(serviceID string, dir string) *Registry {
	return &Registry{
		dir:       dir,
		serviceID: serviceID,
		log:       logrus.WithFields(logrus.Fields{"service_id": serviceID, "targets_dir": dir}),
		files:     map[string][]resolvedTarget{},
	}
}

func (r *Registry) Entries() []nvme.DiscoveryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entries)
}

// GenerationCounter is bumped on every change of the entries.
func (r *Registry) GenerationCounter() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.genctr
}

// Snapshot returns the entries and the generation counter they were published with.
func (r *Registry) Snapshot() (uint64, []nvme.DiscoveryEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.genctr, slices.Clone(r.entries)
}

// Load reads every targets file of the directory, replacing what was loaded before.
// Files that fail to parse are skipped.
func (r *Registry) Load() error {
	files, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	loaded := map[string][]resolvedTarget{}
	for _, file := range files {
		if file.IsDir() || !isTargetsFile(file.Name()) {
			continue
		}
		path := filepath.Join(r.dir, file.Name())
		targets, err := ParseFile(path)
		if err != nil {
			r.logParseError(path, err)
			continue
		}
		r.log.Debugf("loaded %d targets from %s", len(targets), path)
		loaded[path] = r.resolve(targets)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = loaded
	r.rebuild()
	return nil
}

// Run watches the directory and applies file changes as they happen, until ctx is done.
// It returns once the watch is established.
func (r *Registry) Run(ctx context.Context) error {
	var fw FileWatcher
	ch, err := fw.Watch(ctx, r.dir)
	if err != nil {
		return err
	}
	go func() {
		for event := range ch {
			if !isTargetsFile(event.Name) {
				continue
			}
			switch event.Op {
			case Create, Modify:
				r.fileChanged(event.Name)
			case Remove, Rename:
				r.fileRemoved(event.Name)
			default:
				r.log.Debugf("unhandled event for file: %q. op: %s", event.Name, event.Op)
			}
		}
	}()
	return nil
}

// fileChanged reloads path. A file that no longer parses keeps its previous targets.
func (r *Registry) fileChanged(path string) {
	targets, err := ParseFile(path)
	if err != nil {
		r.logParseError(path, err)
		return
	}
	resolved := r.resolve(targets)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = resolved
	r.rebuild()
}

func (r *Registry) fileRemoved(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[path]; !ok {
		return
	}
	delete(r.files, path)
	r.rebuild()
}

func (r *Registry) logParseError(path string, err error) {
	entry := r.log.WithError(err).WithField("file", path)
	if perr, ok := err.(*ParserError); ok && perr.Details != "" {
		entry = entry.WithField("details", perr.Details)
	}
	entry.Warn("failed to load targets file")
}

// resolve renders the entries of targets. Hostname lookups happen here, never under mu.
func (r *Registry) resolve(targets []*Target) []resolvedTarget {
	resolved := make([]resolvedTarget, 0, len(targets))
	for _, target := range targets {
		entry, err := target.Entry()
		if err != nil {
			r.log.WithError(err).Warnf("skipping target %s", target)
			continue
		}
		resolved = append(resolved, resolvedTarget{target: *target, entry: entry})
	}
	return resolved
}

// rebuild recomputes the entries from all files. Must be called with mu held.
// It only merges already resolved entries and never blocks.
func (r *Registry) rebuild() {
	start := time.Now()
	defer func() {
		metrics.Metrics.ReloadTargetsDurationSeconds.WithLabelValues(r.serviceID).Observe(time.Since(start).Seconds())
	}()

	paths := make([]string, 0, len(r.files))
	for path := range r.files {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	// the first file listing a target wins, like removeDupEntries
	seen := map[Target]bool{}
	var distinct []resolvedTarget
	for _, path := range paths {
		for _, rt := range r.files[path] {
			if seen[rt.target] {
				continue
			}
			seen[rt.target] = true
			distinct = append(distinct, rt)
		}
	}
	slices.SortStableFunc(distinct, func(a, b resolvedTarget) int {
		return compareTargets(&a.target, &b.target)
	})

	var entries []nvme.DiscoveryEntry
	for _, rt := range distinct {
		entries = append(entries, rt.entry)
	}

	metrics.Metrics.TargetCount.WithLabelValues(r.serviceID).Set(float64(len(entries)))
	if reflect.DeepEqual(entries, r.entries) {
		return
	}
	r.entries = entries
	r.genctr++
	metrics.Metrics.TargetsGeneration.WithLabelValues(r.serviceID).Set(float64(r.genctr))
	r.log.WithFields(logrus.Fields{"genctr": r.genctr, "targets": len(entries)}).Info("discovery log updated")
}
