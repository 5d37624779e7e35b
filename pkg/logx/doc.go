// Package logx is autoposter's structured logging, a thin layer over zerolog.
//
// Console output is human readable with a short file:line caller. The
// optional log file gets JSON lines. Service.Apply swaps level and sinks at
// runtime, and loggers derived from a Service follow the swap.
package logx
