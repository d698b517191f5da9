// Package logx wraps zerolog for motorsched: human readable console output
// on stderr (never stdout, which the shell owns), JSON lines in an optional
// file, and levels and sinks that can be swapped at runtime on config
// reload.
package logx
