package experiment

import (
	"context"
)

// Relay messages sent to every subscriber of a run's group.
const (
	// EndedMessage is the last message of a run that exited normally.
	EndedMessage = "实验结束"

	// StderrPrefix marks lines the script wrote to stderr.
	StderrPrefix = "ERROR: "

	// groupPrefix prefixes the target name to form a broadcast group.
	groupPrefix = "experiment_"
)

// Relay publishes a message to a broadcast group. Delivery is best-effort:
// subscribers that join late miss earlier messages.
type Relay interface {
	Publish(ctx context.Context, group, message string) error
}

// RelayFunc adapts a function to the Relay interface.
type RelayFunc func(ctx context.Context, group, message string) error

// Publish calls f.
func (f RelayFunc) Publish(ctx context.Context, group, message string) error {
	return f(ctx, group, message)
}

// GroupName returns the broadcast group for target.
func GroupName(target string) string {
	return groupPrefix + target
}

// TargetFromGroup reverses GroupName. The bool is false for foreign groups.
func TargetFromGroup(group string) (string, bool) {
	if len(group) <= len(groupPrefix) || group[:len(groupPrefix)] != groupPrefix {
		return "", false
	}
	return group[len(groupPrefix):], true
}

// errorMessage formats a failure for relaying to subscribers.
func errorMessage(err error) string {
	return "Error: " + err.Error()
}
