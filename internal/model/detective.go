package model

import (
	"time"

	"github.com/google/uuid"
)

// Category is the closed set of failure categories the detective assigns.
type Category string

const (
	CategoryLogic             Category = "logic"
	CategoryDatabase          Category = "database"
	CategoryTimeout           Category = "timeout"
	CategoryConfigMismatch    Category = "config_mismatch"
	CategoryDependencyVersion Category = "dependency_version"
	CategoryType              Category = "type"
	CategoryName              Category = "name"
	CategoryImport            Category = "import"
	CategorySyntax            Category = "syntax"
	CategoryPermission        Category = "permission"
	CategoryConnection        Category = "connection"
	CategoryUnknown           Category = "unknown"
)

var validCategories = map[Category]bool{
	CategoryLogic:             true,
	CategoryDatabase:          true,
	CategoryTimeout:           true,
	CategoryConfigMismatch:    true,
	CategoryDependencyVersion: true,
	CategoryType:              true,
	CategoryName:              true,
	CategoryImport:            true,
	CategorySyntax:            true,
	CategoryPermission:        true,
	CategoryConnection:        true,
	CategoryUnknown:           true,
}

// Valid reports whether c is a recognized category.
func (c Category) Valid() bool { return validCategories[c] }

// ExtractedError is one error pulled out of the raw log text.
type ExtractedError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// SuspectedFile is a ranked fault-localisation candidate.
type SuspectedFile struct {
	Path       string   `json:"path"`
	Confidence float64  `json:"confidence"`
	Lines      []int    `json:"lines,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
}

// SuspectedFunction is a function implicated by a stack frame.
type SuspectedFunction struct {
	Name       string  `json:"name"`
	File       string  `json:"file"`
	Line       int     `json:"line"`
	Confidence float64 `json:"confidence"`
}

// RecentChange is a recent commit scored for relevance to the suspects.
type RecentChange struct {
	CommitID  string    `json:"commit_id"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Files     []string  `json:"files"`
	Relevance float64   `json:"relevance"`
}

// DetectiveReport is the detective stage's artifact.
type DetectiveReport struct {
	IncidentID uuid.UUID           `json:"incident_id"`
	Errors     []ExtractedError    `json:"errors"`
	Category   Category            `json:"category"`
	Suspects   []SuspectedFile     `json:"suspects"`
	Functions  []SuspectedFunction `json:"functions,omitempty"`
	Changes    []RecentChange      `json:"changes,omitempty"`
	Evidence   []string            `json:"evidence,omitempty"`
	Confidence float64             `json:"confidence"`
}
