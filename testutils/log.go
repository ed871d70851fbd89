// Package testutils provides point fixtures and logging helpers shared by package tests.
package testutils

import (
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// CountMessages returns how many observed entries at or above level carry the given message.
func CountMessages(logs *observer.ObservedLogs, level zapcore.Level, msg string) int {
	return logs.Filter(func(e observer.LoggedEntry) bool {
		return e.Level >= level && e.Message == msg
	}).Len()
}
