package model

import "errors"

var (
	// ErrAgentIDRequired is returned when an agent update carries no id.
	ErrAgentIDRequired = errors.New("agent id is required")

	// ErrAgentNotFound is returned when an agent is not in the registry.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidStatus is returned when an agent update carries an unknown status.
	ErrInvalidStatus = errors.New("invalid agent status")

	// ErrMetricRequired is returned when a telemetry sample lacks a metric.
	ErrMetricRequired = errors.New("telemetry metric is required")

	// ErrTaskIDRequired is returned when a task event carries no id.
	ErrTaskIDRequired = errors.New("task id is required")
)
