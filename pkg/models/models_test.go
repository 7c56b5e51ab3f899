package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theological-agent/internal/repository"
	"theological-agent/internal/workflow"
)

func TestNormalizeSanitizes(t *testing.T) {
	req := AnalyzeRequest{
		Book:            "  Sl ",
		Chapter:         23,
		Verses:          []int{3, 1, 3, 2, 1},
		SelectedModules: []string{" Panorama", "EXEGESE", "panorama"},
	}
	out, err := req.Normalize()
	require.NoError(t, err)
	assert.Equal(t, AnalyzeRequest{
		Book:            "Sl",
		Chapter:         23,
		Verses:          []int{3, 1, 2},
		SelectedModules: []string{"panorama", "exegese"},
	}, out)
}

func TestNormalizeAcceptsAccentedBooks(t *testing.T) {
	_, err := AnalyzeRequest{Book: "Êx", Chapter: 3, Verses: []int{14}, SelectedModules: []string{"teologia"}}.Normalize()
	assert.NoError(t, err)
}

func TestNormalizeRejects(t *testing.T) {
	valid := AnalyzeRequest{Book: "Sl", Chapter: 23, Verses: []int{1}, SelectedModules: []string{"panorama"}}

	tests := []struct {
		name  string
		edit  func(r *AnalyzeRequest)
		field string
	}{
		{"empty book", func(r *AnalyzeRequest) { r.Book = " " }, "book"},
		{"long book", func(r *AnalyzeRequest) { r.Book = "Apocalipsee1" }, "book"},
		{"punctuation", func(r *AnalyzeRequest) { r.Book = "Sl;--" }, "book"},
		{"chapter zero", func(r *AnalyzeRequest) { r.Chapter = 0 }, "chapter"},
		{"chapter too big", func(r *AnalyzeRequest) { r.Chapter = 201 }, "chapter"},
		{"no verses", func(r *AnalyzeRequest) { r.Verses = nil }, "verses"},
		{"verse zero", func(r *AnalyzeRequest) { r.Verses = []int{1, 0} }, "verses"},
		{"no modules", func(r *AnalyzeRequest) { r.SelectedModules = []string{} }, "selected_modules"},
		{"unknown module", func(r *AnalyzeRequest) { r.SelectedModules = []string{"sermon"} }, "selected_modules"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.edit(&req)
			_, err := req.Normalize()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestReviewViews(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &repository.Review{
		RunID:     "run-1",
		Inputs:    workflow.Inputs{Book: "Sl", Chapter: 23, Verses: []int{1, 2, 3}, Modules: []string{"panorama"}},
		Outputs:   map[workflow.Slot]string{workflow.SlotValidation: "check", workflow.SlotPanorama: "pan"},
		RiskLevel: "high",
		Status:    repository.ReviewPending,
		CreatedAt: created,
	}

	list := PendingFromReviews([]*repository.Review{r})
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Sl 23:1-3", list.Pending[0].Reference)
	assert.NotNil(t, list.Pending[0].Alerts)

	d := DetailFromReview(r)
	assert.Equal(t, "check", d.ValidationContent)
	assert.Equal(t, "pan", d.PanoramaContent)
	assert.Empty(t, d.LexicalContent)
	assert.Equal(t, "pending", d.Status)
	assert.Equal(t, created, d.CreatedAt)
}

func TestResponseFromState(t *testing.T) {
	s := workflow.NewState("run-1", workflow.Inputs{Book: "Sl"})
	s.HITLStatus = workflow.HITLPending
	s.RiskLevel = workflow.RiskHigh
	resp := ResponseFromState(s, 42)
	assert.True(t, resp.Pending())
	assert.Equal(t, "high", resp.RiskLevel)
	assert.EqualValues(t, 42, resp.DurationMS)
}
