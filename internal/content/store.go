package content

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"autoposter/internal/core"
	"autoposter/internal/storage"
	logx "autoposter/pkg/logx"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".gif":  {},
}

const defaultCaptionFile = "captions.csv"

type Store struct {
	root string
	repo storage.Repository
	log  logx.Logger

	// mu serializes caption file rewrites within this process.
	mu sync.Mutex
}

func New(root string, repo storage.Repository, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{root: root, repo: repo, log: log}
}

func (s *Store) Root() string { return s.root }

func (s *Store) periodDir(p core.Period) string {
	return filepath.Join(s.root, strconv.Itoa(int(p)))
}

// ImagePath returns the absolute-or-root-relative path of an image.
func (s *Store) ImagePath(p core.Period, name string) string {
	return filepath.Join(s.periodDir(p), filepath.Base(name))
}

func (s *Store) ImagePaths(p core.Period, names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, s.ImagePath(p, n))
	}
	return out
}

// listImages returns the image files currently present, sorted by name.
func (s *Store) listImages(p core.Period) ([]string, error) {
	entries, err := os.ReadDir(s.periodDir(p))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, ok := imageExts[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func orderKey(p core.Period) string { return fmt.Sprintf("image_order.%d", int(p)) }

// reconcileOrder keeps stored ∩ present in stored order, then appends the
// remaining present files (already sorted).
func reconcileOrder(stored, present []string) []string {
	have := make(map[string]struct{}, len(present))
	for _, n := range present {
		have[n] = struct{}{}
	}
	out := make([]string, 0, len(present))
	seen := make(map[string]struct{}, len(present))
	for _, n := range stored {
		if _, ok := have[n]; !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, n := range present {
		if _, ok := seen[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// ImageOrder returns the current permutation of the period's images.
// The stored order is rewritten only when reconciliation changed it.
func (s *Store) ImageOrder(ctx context.Context, p core.Period) ([]string, error) {
	present, err := s.listImages(p)
	if err != nil {
		return nil, fmt.Errorf("list images of period %d: %w", p, err)
	}

	var order []string
	err = s.repo.AtomicUpdate(ctx, orderKey(p), func(cur []byte, ok bool) ([]byte, error) {
		var stored []string
		if ok && len(cur) > 0 {
			if err := json.Unmarshal(cur, &stored); err != nil {
				s.log.Warn("image order unreadable; rebuilding", logx.Int("period", int(p)), logx.Err(err))
				stored = nil
			}
		}
		order = reconcileOrder(stored, present)
		if ok && slices.Equal(order, stored) {
			return nil, storage.ErrSkipWrite
		}
		if !ok && len(order) == 0 {
			return nil, storage.ErrSkipWrite
		}
		return json.Marshal(order)
	})
	if err != nil {
		return nil, &core.PersistenceError{Op: "image order", Err: err}
	}
	return order, nil
}

// UpdateImageOrder persists the subsequence of newOrder whose files exist.
// It returns the persisted order.
func (s *Store) UpdateImageOrder(ctx context.Context, p core.Period, newOrder []string) ([]string, error) {
	present, err := s.listImages(p)
	if err != nil {
		return nil, fmt.Errorf("list images of period %d: %w", p, err)
	}
	have := make(map[string]struct{}, len(present))
	for _, n := range present {
		have[n] = struct{}{}
	}
	valid := make([]string, 0, len(newOrder))
	seen := make(map[string]struct{}, len(newOrder))
	for _, n := range newOrder {
		n = strings.TrimSpace(n)
		if _, ok := have[n]; !ok {
			s.log.Debug("image order entry ignored", logx.Int("period", int(p)), logx.String("image", n))
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		valid = append(valid, n)
	}
	body, err := json.Marshal(valid)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, orderKey(p), body); err != nil {
		return nil, &core.PersistenceError{Op: "image order", Err: err}
	}
	return valid, nil
}

// RemoveImage deletes an image file from the period directory.
func (s *Store) RemoveImage(p core.Period, name string) error {
	name = filepath.Base(strings.TrimSpace(name))
	if _, ok := imageExts[strings.ToLower(filepath.Ext(name))]; !ok {
		return fmt.Errorf("%q is not an image: %w", name, core.ErrNotFound)
	}
	if err := os.Remove(s.ImagePath(p, name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("image %q: %w", name, core.ErrNotFound)
		}
		return err
	}
	return nil
}
