package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
const (
	// TopicPrefix is the root of every reverie topic.
	TopicPrefix = "reverie"

	// TopicPrefixExperiment is the base for per-experiment topics.
	TopicPrefixExperiment = "reverie/experiment"

	// TopicPrefixSystem is the base for service topics.
	TopicPrefixSystem = "reverie/system"
)

// Topics builds reverie MQTT topics.
//
//	topic := mqtt.Topics{}.ExperimentOutput("run_1")
//	// reverie/experiment/run_1/output
type Topics struct{}

// ExperimentOutput returns the topic carrying a run's relayed output lines.
//
// Example: reverie/experiment/run_1/output
func (Topics) ExperimentOutput(target string) string {
	return fmt.Sprintf("%s/%s/output", TopicPrefixExperiment, target)
}

// AllExperimentOutput matches the output topics of every run.
//
// Pattern: reverie/experiment/+/output
func (Topics) AllExperimentOutput() string {
	return TopicPrefixExperiment + "/+/output"
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: reverie/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllTopics matches every reverie topic.
//
// Pattern: reverie/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// TargetFromOutputTopic extracts the run target from an output topic.
// The bool is false for any other topic.
func TargetFromOutputTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixExperiment+"/")
	if !ok {
		return "", false
	}
	target, ok := strings.CutSuffix(rest, "/output")
	if !ok || target == "" || strings.Contains(target, "/") {
		return "", false
	}
	return target, true
}
