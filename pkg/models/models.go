// Package models defines the request and response payloads of the analysis
// service.
package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"
)

// Modules accepted in AnalyzeRequest.SelectedModules.
const (
	ModulePanorama = "panorama"
	ModuleExegese  = "exegese"
	ModuleTeologia = "teologia"
)

// ValidModules lists the accepted module names.
var ValidModules = []string{ModulePanorama, ModuleExegese, ModuleTeologia}

const (
	maxBookLength = 10
	maxChapter    = 200
	maxVerses     = 200
)

// AnalyzeRequest is the payload of an analysis request.
type AnalyzeRequest struct {
	Book            string   `json:"book"`
	Chapter         int      `json:"chapter"`
	Verses          []int    `json:"verses"`
	SelectedModules []string `json:"selected_modules"`
}

// ValidationError reports an invalid request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Normalize validates the request and returns a sanitized copy: the book is
// trimmed, verses are deduplicated in their original order and modules are
// lower-cased and deduplicated.
func (r AnalyzeRequest) Normalize() (AnalyzeRequest, error) {
	out := AnalyzeRequest{Book: strings.TrimSpace(r.Book), Chapter: r.Chapter}

	if out.Book == "" || len([]rune(out.Book)) > maxBookLength {
		return out, &ValidationError{"book", fmt.Sprintf("must be 1 to %d characters", maxBookLength)}
	}
	for _, c := range out.Book {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			return out, &ValidationError{"book", fmt.Sprintf("must be alphanumeric, got %q", out.Book)}
		}
	}

	if out.Chapter < 1 || out.Chapter > maxChapter {
		return out, &ValidationError{"chapter", fmt.Sprintf("must be between 1 and %d", maxChapter)}
	}

	if len(r.Verses) == 0 {
		return out, &ValidationError{"verses", "at least one verse must be selected"}
	}
	if len(r.Verses) > maxVerses {
		return out, &ValidationError{"verses", fmt.Sprintf("at most %d verses", maxVerses)}
	}
	for _, v := range r.Verses {
		if v < 1 {
			return out, &ValidationError{"verses", fmt.Sprintf("verse number must be >= 1, got %d", v)}
		}
		if !slices.Contains(out.Verses, v) {
			out.Verses = append(out.Verses, v)
		}
	}

	if len(r.SelectedModules) == 0 {
		return out, &ValidationError{"selected_modules", "at least one module must be selected"}
	}
	for _, m := range r.SelectedModules {
		m = strings.ToLower(strings.TrimSpace(m))
		if !slices.Contains(ValidModules, m) {
			return out, &ValidationError{"selected_modules", fmt.Sprintf("unknown module %q, valid: %s", m, strings.Join(ValidModules, ", "))}
		}
		if !slices.Contains(out.SelectedModules, m) {
			out.SelectedModules = append(out.SelectedModules, m)
		}
	}
	return out, nil
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}
