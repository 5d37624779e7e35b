// Package settings persists the operator-mutable scheduling configuration.
//
// Settings are read from the repository on every call; nothing is cached
// across scheduler ticks. Reload additionally reports whether the document
// changed since the previous Reload so the scheduler only re-arms on change.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"autoposter/internal/core"
	"autoposter/internal/storage"
	logx "autoposter/pkg/logx"
)

const documentKey = "settings"

// Setting keys accepted by Update and Get.
const (
	KeyEnabled       = "enabled"
	KeyImagesPerPost = "num_images"
	KeyPostingTimes  = "posting_times"
	KeyTimezone      = "timezone"
	KeySequential    = "sequential_images"
)

var keyAliases = map[string]string{
	"images_per_post":            KeyImagesPerPost,
	"trigger_times":              KeyPostingTimes,
	"timezone_name":              KeyTimezone,
	"sequential_image_selection": KeySequential,
}

type Store struct {
	repo storage.Repository
	log  logx.Logger

	mu       sync.Mutex
	lastHash uint64
	reloaded bool
}

func New(repo storage.Repository, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{repo: repo, log: log}
}

func canonicalKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

// Load reads the persisted settings. Missing fields take defaults; fields that
// fail validation are replaced by their defaults and logged.
func (s *Store) Load(ctx context.Context) (core.SchedulerSettings, error) {
	body, ok, err := s.repo.Load(ctx, documentKey)
	if err != nil {
		return core.SchedulerSettings{}, &core.PersistenceError{Op: "load settings", Err: err}
	}
	return s.decode(body, ok)
}

func (s *Store) decode(body []byte, ok bool) (core.SchedulerSettings, error) {
	cfg := core.DefaultSettings()
	if !ok || len(body) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(body, &cfg); err != nil {
		return core.SchedulerSettings{}, &core.PersistenceError{Op: "decode settings", Err: err}
	}
	return s.sanitize(cfg), nil
}

func (s *Store) sanitize(cfg core.SchedulerSettings) core.SchedulerSettings {
	def := core.DefaultSettings()
	if err := validateImages(cfg.ImagesPerPost); err != nil {
		s.log.Warn("persisted setting invalid; using default", logx.Err(err))
		cfg.ImagesPerPost = def.ImagesPerPost
	}
	if times, err := NormalizeTimes(cfg.TriggerTimesLocal); err != nil {
		s.log.Warn("persisted setting invalid; using default", logx.Err(err))
		cfg.TriggerTimesLocal = def.TriggerTimesLocal
	} else {
		cfg.TriggerTimesLocal = times
	}
	if err := validateTimezone(cfg.TimezoneName); err != nil {
		s.log.Warn("persisted setting invalid; using default", logx.Err(err))
		cfg.TimezoneName = def.TimezoneName
	}
	return cfg
}

// Reload loads the settings and reports whether they differ from the
// previous Reload. The first Reload always reports changed.
func (s *Store) Reload(ctx context.Context) (core.SchedulerSettings, bool, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return core.SchedulerSettings{}, false, err
	}
	h := hashSettings(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !s.reloaded || h != s.lastHash
	s.lastHash = h
	s.reloaded = true
	return cfg, changed, nil
}

// Update validates and persists a single setting. On validation failure the
// stored document is left untouched and a *core.SettingsValidationError is
// returned.
func (s *Store) Update(ctx context.Context, key string, value any) (core.SchedulerSettings, error) {
	k := canonicalKey(key)
	apply, err := parseValue(k, value)
	if err != nil {
		return core.SchedulerSettings{}, err
	}

	var out core.SchedulerSettings
	err = s.repo.AtomicUpdate(ctx, documentKey, func(cur []byte, ok bool) ([]byte, error) {
		cfg, err := s.decode(cur, ok)
		if err != nil {
			return nil, err
		}
		apply(&cfg)
		out = cfg
		return json.MarshalIndent(cfg, "", "  ")
	})
	if err != nil {
		return core.SchedulerSettings{}, &core.PersistenceError{Op: "update settings", Err: err}
	}
	s.log.Info("setting updated", logx.String("key", k), logx.Any("value", value))
	return out, nil
}

// Get returns the value of key, or def when the key is unknown or the
// settings cannot be read.
func (s *Store) Get(ctx context.Context, key string, def any) any {
	cfg, err := s.Load(ctx)
	if err != nil {
		return def
	}
	switch canonicalKey(key) {
	case KeyEnabled:
		return cfg.Enabled
	case KeyImagesPerPost:
		return cfg.ImagesPerPost
	case KeyPostingTimes:
		return cfg.TriggerTimesLocal
	case KeyTimezone:
		return cfg.TimezoneName
	case KeySequential:
		return cfg.SequentialImageSelection
	default:
		return def
	}
}

// Location resolves the configured timezone.
func Location(cfg core.SchedulerSettings) *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(cfg.TimezoneName))
	if err != nil {
		return time.UTC
	}
	return loc
}

func hashSettings(cfg core.SchedulerSettings) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func invalid(key, format string, args ...any) error {
	return &core.SettingsValidationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}
