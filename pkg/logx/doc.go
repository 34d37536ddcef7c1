// Package logx provides a small structured logging layer on top of zerolog.
//
// It exists so engine components depend on a stable, minimal API
// (Logger + Field helpers) instead of a concrete logging backend, and so
// sinks/levels can be swapped at runtime when the config file changes.
package logx
