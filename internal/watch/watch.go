// Package watch turns document writes under the project docs tree into
// automated phase signals. It is a best-effort backup for the explicit
// phase-update operation: watcher failures are logged and never surface
// to the primary flow, and the ledger's regression guard is free to
// reject anything the watcher proposes.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/evaluate"
	"github.com/fyrsmithlabs/pdcad/internal/ledger"
	"github.com/fyrsmithlabs/pdcad/internal/phase"
)

// Config holds watcher settings.
type Config struct {
	// DocsDir is the root of the docs tree, laid out as
	// <DocsDir>/<feature>/<phase-folder>/<file>.
	DocsDir string
	// Debounce batches a burst of writes into one ledger save.
	Debounce time.Duration
}

// Watcher maps docs-tree writes onto automated ledger transitions.
type Watcher struct {
	config Config
	store  *ledger.Store
	eval   *evaluate.Evaluator
	logger *zap.Logger
}

// New creates a watcher. eval may be nil to skip document scoring.
func New(cfg Config, store *ledger.Store, eval *evaluate.Evaluator, logger *zap.Logger) (*Watcher, error) {
	if cfg.DocsDir == "" {
		return nil, errors.New("watch: docs dir is required")
	}
	if store == nil {
		return nil, errors.New("watch: ledger store is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{config: cfg, store: store, eval: eval, logger: logger}, nil
}

// docEvent is one classified document write.
type docEvent struct {
	feature string
	phase   phase.Phase
	docType phase.DocType
	path    string
}

// Run watches until ctx is cancelled. A missing docs dir is not an
// error; the watcher simply has nothing to do until a restart.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addTree(fw, w.config.DocsDir); err != nil {
		w.logger.Warn("docs tree not watchable", zap.String("dir", w.config.DocsDir), zap.Error(err))
		<-ctx.Done()
		return nil
	}

	pending := make(map[string]docEvent)
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.logger.Debug("watching new directory failed",
							zap.String("dir", ev.Name), zap.Error(err))
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			de, ok := w.classify(ev.Name)
			if !ok {
				continue
			}
			pending[ev.Name] = de
			if debounce == nil {
				debounce = time.NewTimer(w.config.Debounce)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.config.Debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Debug("watcher error", zap.Error(err))

		case <-debounceC:
			w.flush(ctx, pending)
			pending = make(map[string]docEvent)
			debounce = nil
			debounceC = nil
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

// classify maps a written file path to a document event. Paths outside
// the <feature>/<phase-folder>/<file> convention, editor droppings, and
// unknown folders are skipped.
func (w *Watcher) classify(path string) (docEvent, bool) {
	rel, err := filepath.Rel(w.config.DocsDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return docEvent{}, false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 3 {
		return docEvent{}, false
	}
	base := parts[len(parts)-1]
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".swp") {
		return docEvent{}, false
	}

	feature, folder := parts[0], parts[1]
	ph, ok := phase.PhaseForFolder(folder)
	if !ok {
		return docEvent{}, false
	}
	dt, ok := phase.DocTypeForFolder(folder)
	if !ok {
		return docEvent{}, false
	}
	return docEvent{feature: feature, phase: ph, docType: dt, path: path}, true
}

// flush applies the pending events as one ledger batch: one get, N
// apply calls, one save.
func (w *Watcher) flush(ctx context.Context, pending map[string]docEvent) {
	if len(pending) == 0 {
		return
	}
	snap, err := w.store.Get(ctx)
	if err != nil {
		w.logger.Warn("ledger read failed, dropping document signals", zap.Error(err))
		return
	}

	for _, de := range pending {
		if _, err := snap.ApplyPhaseTransition(de.feature, de.phase, ledger.SourceAutomated, ledger.TransitionOptions{}); err != nil {
			// The regression guard rejecting an automated signal is
			// normal; the document is still recorded below.
			w.logger.Debug("automated phase signal rejected",
				zap.String("feature", de.feature),
				zap.String("phase", string(de.phase)),
				zap.Error(err))
		}
		if _, err := snap.ApplyDocument(de.feature, de.docType, de.path); err != nil {
			w.logger.Debug("document record failed",
				zap.String("path", de.path), zap.Error(err))
			continue
		}
		if w.eval != nil {
			if res := w.eval.Check(ctx, de.path); res.Scored {
				if _, err := snap.ApplyEvaluation(de.feature, de.phase, res.Score); err != nil {
					w.logger.Debug("evaluation record failed",
						zap.String("path", de.path), zap.Error(err))
				}
			}
		}
	}

	if err := w.store.Save(ctx, snap); err != nil {
		w.logger.Error("ledger save failed after document signals", zap.Error(err))
		return
	}
	w.logger.Debug("document signals applied", zap.Int("count", len(pending)))
}
