package content

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"autoposter/internal/core"
	logx "autoposter/pkg/logx"
)

const autoIDPrefix = "post"

// captionFile returns the caption file of a period: the first *.csv by name,
// or captions.csv when none exists yet.
func (s *Store) captionFile(p core.Period) (string, bool, error) {
	dir := s.periodDir(p)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Join(dir, defaultCaptionFile), false, nil
		}
		return "", false, err
	}
	names := make([]string, 0, 1)
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return filepath.Join(dir, defaultCaptionFile), false, nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), true, nil
}

// ListCaptions returns the period's captions in stored order.
// Rows without text are skipped.
func (s *Store) ListCaptions(p core.Period) ([]core.CaptionRecord, error) {
	path, ok, err := s.captionFile(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []core.CaptionRecord{}, nil
	}
	return readCaptions(path)
}

func readCaptions(path string) ([]core.CaptionRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read captions: %w", err)
	}
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	out := []core.CaptionRecord{}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse captions %s: %w", filepath.Base(path), err)
		}
		if len(row) < 2 {
			continue
		}
		id := strings.TrimSpace(row[0])
		text := strings.TrimSpace(row[1])
		if id == "" || text == "" {
			continue
		}
		out = append(out, core.CaptionRecord{ID: id, Text: text})
	}
	return out, nil
}

func writeCaptions(path string, recs []core.CaptionRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range recs {
		if err := w.Write([]string{r.ID, r.Text}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// AddCaptions appends captions parsed from input, one per line. A line is
// either "id,text" or bare text; bare text gets the next "post<N>" id.
// Lines that cannot be added are reported in rejected, the rest are written.
func (s *Store) AddCaptions(p core.Period, input string) (added []core.CaptionRecord, rejected []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok, err := s.captionFile(p)
	if err != nil {
		return nil, nil, err
	}
	existing := []core.CaptionRecord{}
	if ok {
		if existing, err = readCaptions(path); err != nil {
			return nil, nil, err
		}
	}

	ids := make(map[string]struct{}, len(existing))
	maxN := 0
	for _, r := range existing {
		ids[r.ID] = struct{}{}
		if n, ok := autoIDNumber(r.ID); ok && n > maxN {
			maxN = n
		}
	}

	for i, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec core.CaptionRecord
		if id, text, found := strings.Cut(line, ","); found {
			rec = core.CaptionRecord{ID: strings.TrimSpace(id), Text: strings.TrimSpace(text)}
			if rec.ID == "" || rec.Text == "" {
				rejected = append(rejected, fmt.Sprintf("line %d: both id and text are required", i+1))
				continue
			}
			if _, dup := ids[rec.ID]; dup {
				rejected = append(rejected, fmt.Sprintf("line %d: id %q already exists", i+1, rec.ID))
				continue
			}
			if n, ok := autoIDNumber(rec.ID); ok && n > maxN {
				maxN = n
			}
		} else {
			for {
				maxN++
				id := autoIDPrefix + strconv.Itoa(maxN)
				if _, dup := ids[id]; !dup {
					rec = core.CaptionRecord{ID: id, Text: line}
					break
				}
			}
		}
		ids[rec.ID] = struct{}{}
		added = append(added, rec)
	}

	if len(added) == 0 {
		return nil, rejected, nil
	}
	if err := writeCaptions(path, append(existing, added...)); err != nil {
		return nil, rejected, fmt.Errorf("write captions: %w", err)
	}
	s.log.Info("captions added", logx.Int("period", int(p)), logx.Int("added", len(added)), logx.Int("rejected", len(rejected)))
	return added, rejected, nil
}

// RemoveCaption deletes the caption with id from the period's file.
func (s *Store) RemoveCaption(p core.Period, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok, err := s.captionFile(p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("caption %q: %w", id, core.ErrNotFound)
	}
	recs, err := readCaptions(path)
	if err != nil {
		return err
	}
	kept := recs[:0]
	found := false
	for _, r := range recs {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return fmt.Errorf("caption %q: %w", id, core.ErrNotFound)
	}
	return writeCaptions(path, kept)
}

func autoIDNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, autoIDPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
