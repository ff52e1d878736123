// Package logger wraps zap with a process-wide sugared logger that travels
// inside context.Context.
//
// Components never hold a logger field: they call Info/InfoKV/... with the
// context they were given, and WithName/WithKV scope the logger for a
// sub-tree of calls.
package logger
