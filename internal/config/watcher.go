package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"rate-limit-engine/internal/domain"
)

const debounceDelay = 100 * time.Millisecond

// PolicyWatcher observa o arquivo de políticas e avisa quando ele muda
type PolicyWatcher struct {
	path   string
	logger domain.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewPolicyWatcher cria o watcher para o caminho informado
func NewPolicyWatcher(path string, logger domain.Logger) (*PolicyWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	return &PolicyWatcher{path: absPath, logger: logger}, nil
}

// Watch retorna um canal que recebe um valor a cada alteração do arquivo.
// O diretório é observado porque editores costumam substituir o arquivo.
func (w *PolicyWatcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, fmt.Errorf("policy watcher is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	w.watcher = watcher

	changes := make(chan struct{}, 1)
	go w.loop(ctx, watcher, filepath.Base(w.path), changes)

	w.logger.Info("Watching policy file", map[string]interface{}{"path": w.path})
	return changes, nil
}

func (w *PolicyWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher, name string, changes chan<- struct{}) {
	defer close(changes)
	defer watcher.Close()

	// rajadas de eventos viram uma única notificação
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-pending:
			pending = nil
			select {
			case changes <- struct{}{}:
			default:
				// já existe uma mudança pendente
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(debounceDelay)
			} else if event.Has(fsnotify.Remove) {
				w.logger.Warn("Policy file was removed, keeping current policies", map[string]interface{}{
					"path": w.path,
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Policy file watcher error", err, nil)
		}
	}
}

// Close encerra o watcher
func (w *PolicyWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}

// WatchPolicies recarrega e publica as políticas a cada alteração do arquivo.
// Um arquivo inválido é ignorado e as políticas atuais continuam valendo.
func WatchPolicies(ctx context.Context, watcher *PolicyWatcher, limiter GeneralRulesUpdater, seeder PolicySeeder, logger domain.Logger) error {
	changes, err := watcher.Watch(ctx)
	if err != nil {
		return err
	}

	go func() {
		for range changes {
			policies, err := LoadPolicyFile(watcher.path)
			if err != nil {
				logger.Error("Failed to reload policy file", err, map[string]interface{}{"path": watcher.path})
				continue
			}
			if err := policies.Apply(ctx, limiter, seeder); err != nil {
				logger.Error("Failed to apply policy file", err, map[string]interface{}{"path": watcher.path})
				continue
			}
			logger.Info("Policy file reloaded", map[string]interface{}{
				"path":    watcher.path,
				"clients": len(policies.Clients),
				"ips":     len(policies.IPs.Policies),
			})
		}
	}()

	return nil
}
