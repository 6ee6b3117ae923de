package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// FileWatcher calls onChange after a watched file settles
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	target   string
	logger   zerolog.Logger
	onChange func()
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewFileWatcher watches the directory holding target so editor
// rename-and-replace saves are seen as well as in-place writes.
func NewFileWatcher(logger zerolog.Logger, target string, debounce time.Duration, onChange func()) (*FileWatcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	fw := &FileWatcher{
		watcher:  watcher,
		target:   abs,
		logger:   logger,
		onChange: onChange,
		debounce: debounce,
		stopCh:   make(chan struct{}),
	}

	go fw.run()

	return fw, nil
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stopCh)
		fw.mu.Lock()
		if fw.timer != nil {
			fw.timer.Stop()
		}
		fw.mu.Unlock()
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) run() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Knowledge seed change detected")
				fw.schedule()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error().Err(err).Msg("Knowledge watcher error")

		case <-fw.stopCh:
			return
		}
	}
}

func (fw *FileWatcher) schedule() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, func() {
		select {
		case <-fw.stopCh:
			return
		default:
		}
		fw.onChange()
	})
}

// Watch reloads the store from path whenever the file changes.
// A failed reload keeps the previous contents.
func (s *Store) Watch(path string, debounce time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		return fmt.Errorf("knowledge store is already watching")
	}

	watcher, err := NewFileWatcher(s.logger, path, debounce, func() {
		if err := s.LoadFile(context.Background(), path); err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("Knowledge reload failed")
			return
		}
		s.logger.Info().Str("file", path).Msg("Knowledge reloaded")
	})
	if err != nil {
		return fmt.Errorf("failed to watch knowledge seed: %w", err)
	}

	s.watcher = watcher
	return nil
}
