package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

func TestEvaluationRecord_Fresh(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		rec    domain.EvaluationRecord
		maxAge time.Duration
		want   bool
	}{
		{
			name:   "pass within window",
			rec:    domain.EvaluationRecord{Status: domain.EvalPass, EvaluatedAt: now.Add(-time.Hour)},
			maxAge: 2 * time.Hour,
			want:   true,
		},
		{
			name:   "pass outside window",
			rec:    domain.EvaluationRecord{Status: domain.EvalPass, EvaluatedAt: now.Add(-3 * time.Hour)},
			maxAge: 2 * time.Hour,
			want:   false,
		},
		{
			name:   "fail within window still not fresh",
			rec:    domain.EvaluationRecord{Status: domain.EvalFail, EvaluatedAt: now.Add(-time.Minute)},
			maxAge: 2 * time.Hour,
			want:   false,
		},
		{
			name:   "exactly at the boundary counts as fresh",
			rec:    domain.EvaluationRecord{Status: domain.EvalPass, EvaluatedAt: now.Add(-2 * time.Hour)},
			maxAge: 2 * time.Hour,
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Fresh(now, tt.maxAge))
		})
	}
}

func TestEvaluationRecord_Age(t *testing.T) {
	evaluatedAt := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	rec := domain.EvaluationRecord{EvaluatedAt: evaluatedAt}

	now := evaluatedAt.Add(90 * time.Minute)
	assert.Equal(t, 90*time.Minute, rec.Age(now))
}
