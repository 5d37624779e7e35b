// Package notifier forwards posting lifecycle events to the operator.
//
// Events arrive from the in-process bus, are rendered to short text alerts
// and sent through a Sender (Telegram in production). Sends are paced by a
// token bucket and retried with exponential backoff. Alerts are best-effort:
// a failed alert is logged and never fails a posting cycle.
package notifier
