package policyengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/forgecore/agentcore/pkg/domain"
)

// rulesDocument is the on-disk shape of a policy rules file.
type rulesDocument struct {
	Rules []domain.Policy `yaml:"rules"`
}

// YAMLPersister stores remembered rules as a YAML document on disk and
// can watch the file for out-of-process edits.
type YAMLPersister struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewYAMLPersister returns a persister backed by the file at path. The
// file is created empty on first Append if it doesn't already exist.
func NewYAMLPersister(path string) *YAMLPersister {
	return &YAMLPersister{path: path}
}

// Load reads the rules file, returning an empty slice if it doesn't exist yet.
func (p *YAMLPersister) Load() ([]domain.Policy, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("policyengine: read rules file: %w", err)
	}
	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policyengine: parse rules file: %w", err)
	}
	return doc.Rules, nil
}

// Append adds policy to the file, rewriting the whole document. Policy
// files are small (hand-curated plus a handful of remembered
// confirmations), so a full rewrite under a process-local lock is
// simpler than a log-structured append and avoids corrupting the YAML on
// a partial write.
func (p *YAMLPersister) Append(policy domain.Policy) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := p.Load()
	if err != nil {
		return err
	}
	existing = append(existing, policy)

	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("policyengine: create rules directory: %w", err)
		}
	}

	data, err := yaml.Marshal(rulesDocument{Rules: existing})
	if err != nil {
		return fmt.Errorf("policyengine: marshal rules file: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("policyengine: write rules file: %w", err)
	}
	return os.Rename(tmp, p.path)
}

// Watch reloads onChange whenever the rules file changes on disk, until
// ctx is canceled. Useful when an operator hand-edits the policy file
// while the process is running.
func (p *YAMLPersister) Watch(ctx context.Context, onChange func([]domain.Policy)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policyengine: create watcher: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("policyengine: watch rules directory: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.watcher = watcher
	p.cancel = cancel
	p.mu.Unlock()

	go p.watchLoop(watchCtx, watcher, onChange)
	return nil
}

func (p *YAMLPersister) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func([]domain.Policy)) {
	defer watcher.Close()
	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(200*time.Millisecond, func() {
				rules, err := p.Load()
				if err == nil {
					onChange(rules)
				}
			})
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops any active watch.
func (p *YAMLPersister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}
