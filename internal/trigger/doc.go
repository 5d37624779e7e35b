// Package trigger fires posting cycles at operator-configured local clock
// times.
//
// A robfig/cron entry polls at a fixed interval. Each tick reloads the
// settings, re-arms the daily candidates only when the trigger times or the
// timezone changed, and fires at most one cycle when a candidate is due. A
// single in-flight flag, shared with manual PostNow, guarantees that no two
// cycles overlap; a trigger that finds the flag held is skipped, not queued.
package trigger
