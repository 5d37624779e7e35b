// Package orchestrator drives one posting cycle:
//
//	init -> session -> composer -> media -> caption -> submit -> commit
//
// Content is selected first so that a period without usable content never
// opens a browser session. The session is released on every exit path. Any
// failure before commit leaves the usage ledger untouched; a commit failure is
// reported but never retried because the post already went out.
package orchestrator
