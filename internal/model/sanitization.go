package model

import "github.com/google/uuid"

// DetectionChannel distinguishes how a secret was found.
type DetectionChannel string

const (
	ChannelPattern DetectionChannel = "pattern"
	ChannelEntropy DetectionChannel = "entropy"
)

// SanitizationEntry records one redacted secret. The literal value is never
// stored; only its location, kind, and replacement placeholder.
type SanitizationEntry struct {
	File        string           `json:"file"`
	Line        int              `json:"line"`
	Kind        string           `json:"kind"`
	Placeholder string           `json:"placeholder"`
	Severity    Severity         `json:"severity"`
	Channel     DetectionChannel `json:"channel"`
	Confidence  float64          `json:"confidence"`
}

// SanitizationReport summarises one sanitization pass over a working tree.
type SanitizationReport struct {
	IncidentID    uuid.UUID           `json:"incident_id"`
	Entries       []SanitizationEntry `json:"entries"`
	BySeverity    map[Severity]int    `json:"by_severity"`
	ByKind        map[string]int      `json:"by_kind"`
	PatternCount  int                 `json:"pattern_count"`
	EntropyCount  int                 `json:"entropy_count"`
	FilesScanned  int                 `json:"files_scanned"`
	FilesModified int                 `json:"files_modified"`
	Halted        bool                `json:"halted"`
}

// TotalSecrets returns the number of redactions performed.
func (r *SanitizationReport) TotalSecrets() int { return len(r.Entries) }
