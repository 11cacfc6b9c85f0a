// Package api implements the HTTP REST API and Prometheus metrics endpoint.
package api

import (
	"github.com/psaab/nicqos/pkg/adapter"
	"github.com/psaab/nicqos/pkg/profile"
)

// Response is the standard JSON response envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse holds adapter and daemon status.
type StatusResponse struct {
	adapter.Status
	DataplaneLoaded bool   `json:"dataplane_loaded"`
	ActiveConfig    string `json:"config_active_profile,omitempty"`
}

// DirectionStats holds the counters of one direction.
type DirectionStats struct {
	Packets    uint64 `json:"packets"`
	Bytes      uint64 `json:"bytes"`
	HighPrio   uint64 `json:"high_priority_packets"`
	LowLatency uint64 `json:"low_latency_packets"`
}

// GaugeStats is a sampled gauge.
type GaugeStats struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Peak    float64 `json:"peak"`
	Samples uint64  `json:"samples"`
}

// StatisticsResponse is the performance statistics of the adapter.
type StatisticsResponse struct {
	Transmit      DirectionStats    `json:"transmit"`
	Receive       DirectionStats    `json:"receive"`
	Classes       map[string]uint64 `json:"classes"`
	PrioritySent  map[string]uint64 `json:"priority_sent"`
	LatencyMs     GaugeStats        `json:"latency_ms"`
	BandwidthKbps GaugeStats        `json:"bandwidth_kbps"`
}

// ProfileRequest selects a profile by name or supplies one in full.
// Exactly one of the fields must be set.
type ProfileRequest struct {
	Name    string                 `json:"name,omitempty"`
	Profile *profile.GamingProfile `json:"profile,omitempty"`
}

// ProfileResponse describes the active profile.
type ProfileResponse struct {
	DisplayName string                `json:"display_name"`
	Profile     profile.GamingProfile `json:"profile"`
	Generation  uint64                `json:"generation"`
}

// FeatureRequest enables or disables one feature.
type FeatureRequest struct {
	Enable bool `json:"enable"`
}

// RollbackRequest selects a history entry; 0 is the most recent.
type RollbackRequest struct {
	N int `json:"n"`
}

// ClassifyResponse is the verdict for a port pair.
type ClassifyResponse struct {
	SrcPort  uint16 `json:"src_port"`
	DstPort  uint16 `json:"dst_port"`
	Class    string `json:"class"`
	Priority string `json:"priority"`
	DSCP     uint8  `json:"dscp"`
}

// LogEntry is one recent log record.
type LogEntry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
	Attrs   string `json:"attrs,omitempty"`
}
