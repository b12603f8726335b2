package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// hallsWatcher remembers the last halls.yaml it has seen. The modification
// time and size only gate the read; a version counts as new when its
// content hash differs, so touching the file or restoring it with an older
// timestamp behaves as expected.
type hallsWatcher struct {
	path    string
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

func newHallsWatcher(path string) (*hallsWatcher, *HallsConfig, error) {
	w := &hallsWatcher{path: path}
	cfg, _, err := w.poll()
	if err != nil {
		return nil, nil, err
	}
	return w, cfg, nil
}

// poll returns the parsed config when the content changed since the last
// call. A broken version is reported once and not parsed again until the
// content changes.
func (w *hallsWatcher) poll() (*HallsConfig, bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, false, fmt.Errorf("read halls config: %w", err)
	}
	if info.ModTime().Equal(w.modTime) && info.Size() == w.size {
		return nil, false, nil
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, false, fmt.Errorf("read halls config: %w", err)
	}
	w.modTime, w.size = info.ModTime(), info.Size()

	sum := sha256.Sum256(data)
	if sum == w.sum {
		return nil, false, nil
	}
	w.sum = sum

	cfg, err := ParseHallsConfig(data)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// WatchHalls loads halls.yaml, calls onUpdate, and then polls the file,
// calling onUpdate again whenever its content changes to a valid version.
// Invalid edits are reported through onError and the previous halls stay
// in effect.
func WatchHalls(ctx context.Context, path string, interval time.Duration, onUpdate func(*HallsConfig), onError func(error)) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if path == "" {
		path = "configs/halls.yaml"
	}

	w, cfg, err := newHallsWatcher(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cfg, changed, err := w.poll()
				if err != nil {
					// a missing file is usually mid-replace
					if onError != nil && !errors.Is(err, fs.ErrNotExist) {
						onError(err)
					}
					continue
				}
				if changed && onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
