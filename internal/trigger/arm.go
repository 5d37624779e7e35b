package trigger

import (
	"slices"
	"time"

	"autoposter/internal/core"
	"autoposter/internal/settings"
)

// nextOccurrence converts a local "HH:MM" in loc to the next instant at or
// after now. Today's date in loc is the basis; a time already passed rolls
// forward to tomorrow exactly once.
func nextOccurrence(hhmm string, loc *time.Location, now time.Time) (time.Time, error) {
	h, m, err := settings.ParseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	y, mo, d := local.Date()
	at := time.Date(y, mo, d, h, m, 0, 0, loc)
	if !at.After(now) {
		at = time.Date(y, mo, d+1, h, m, 0, 0, loc)
	}
	return at, nil
}

// armCandidates builds the candidate list for times, expressed in server.
// Invalid entries are skipped.
func armCandidates(times []string, loc, server *time.Location, now time.Time) []Candidate {
	out := make([]Candidate, 0, len(times))
	for _, t := range times {
		at, err := nextOccurrence(t, loc, now)
		if err != nil {
			continue
		}
		out = append(out, Candidate{Local: t, At: at.In(server)})
	}
	slices.SortFunc(out, func(a, b Candidate) int { return a.At.Compare(b.At) })
	return out
}

func nextTrigger(cands []Candidate) (time.Time, bool) {
	if len(cands) == 0 {
		return time.Time{}, false
	}
	next := cands[0].At
	for _, c := range cands[1:] {
		if c.At.Before(next) {
			next = c.At
		}
	}
	return next, true
}

// Preview returns the next trigger the settings would arm at now, without a
// running scheduler. ok is false when scheduling is disabled or no time is set.
func Preview(cfg core.SchedulerSettings, server *time.Location, now time.Time) (next time.Time, ok bool) {
	if !cfg.Enabled {
		return time.Time{}, false
	}
	if server == nil {
		server = time.Local
	}
	return nextTrigger(armCandidates(cfg.TriggerTimesLocal, settings.Location(cfg), server, now))
}
