// Package agent talks to the browser automation sidecar over HTTP.
//
// The sidecar owns the logged-in browser. Client exposes it both as the
// session provider and, per named strategy, as the posting agent. Chain
// tries the configured strategies in order behind a single agent so callers
// never see which one succeeded.
//
// Wire format: POST <endpoint>/v1/<action> with a JSON body; the sidecar
// answers {"ok":bool,"status":string,"error":string}. 429 and 503 answers are
// retried with backoff, honouring Retry-After.
package agent
