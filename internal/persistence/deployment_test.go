package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

func makeDeployment(id string, enabled bool) domain.Deployment {
	return domain.Deployment{
		ID:               id,
		Strategy:         "momentum",
		Domain:           domain.DomainCrypto,
		MarketSelector:   domain.MarketSelector{Kind: domain.SelectorStatic, Symbol: "BTC"},
		Timeframe:        "1h",
		Enabled:          enabled,
		AllocatorProfile: "default",
		RiskProfile:      "conservative",
		Priority:         1,
		AccountIDs:       []string{"acct-1"},
		ExecutionMode:    domain.ExecutionAny,
	}
}

func TestStore_PutDeployments_ReplaceVsMerge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDeployments(ctx, false, []domain.Deployment{makeDeployment("dep-1", true)}))
	got, err := s.LoadDeployments(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// merge=true adds dep-2 alongside dep-1.
	require.NoError(t, s.PutDeployments(ctx, true, []domain.Deployment{makeDeployment("dep-2", true)}))
	got, err = s.LoadDeployments(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// merge=false clears dep-1 and dep-2, leaving only dep-3.
	require.NoError(t, s.PutDeployments(ctx, false, []domain.Deployment{makeDeployment("dep-3", true)}))
	got, err = s.LoadDeployments(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dep-3", got[0].ID)
}

func TestStore_LoadDeployments_RoundTripsFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d := makeDeployment("dep-1", true)
	require.NoError(t, s.PutDeployments(ctx, false, []domain.Deployment{d}))

	got, err := s.LoadDeployments(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d.Strategy, got[0].Strategy)
	assert.Equal(t, d.Domain, got[0].Domain)
	assert.Equal(t, d.MarketSelector.Symbol, got[0].MarketSelector.Symbol)
	assert.Equal(t, d.AccountIDs, got[0].AccountIDs)
	assert.True(t, got[0].MatchesAccount("acct-1"))
}

func TestStore_SetDeploymentEnabled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutDeployments(ctx, false, []domain.Deployment{makeDeployment("dep-1", true)}))
	require.NoError(t, s.SetDeploymentEnabled(ctx, "dep-1", false))

	got, err := s.LoadDeployments(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Enabled)

	err = s.SetDeploymentEnabled(ctx, "missing", true)
	assert.Error(t, err, "flipping an unknown deployment must fail")
}

func TestStore_RecordEvaluation_LatestEvaluations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	older := domain.EvaluationRecord{
		AccountID: "acct-1", StrategyID: "momentum", Stage: domain.StageBacktest,
		Status: domain.EvalPass, Score: 0.8, EvidenceHash: "hash-1", EvaluatedAt: now.Add(-time.Hour),
	}
	newer := domain.EvaluationRecord{
		AccountID: "acct-1", StrategyID: "momentum", Stage: domain.StageBacktest,
		Status: domain.EvalPass, Score: 0.9, EvidenceHash: "hash-2", EvaluatedAt: now,
	}
	require.NoError(t, s.RecordEvaluation(ctx, older))
	require.NoError(t, s.RecordEvaluation(ctx, newer))

	recs, err := s.LatestEvaluations(ctx, "acct-1", "momentum", []domain.EvaluationStage{domain.StageBacktest})
	require.NoError(t, err)
	require.Len(t, recs, 1, "only the latest record per requested stage")
	assert.InDelta(t, 0.9, recs[0].Score, 0.0001)
}

func TestStore_RecordEvaluation_DuplicateHashIsNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := domain.EvaluationRecord{
		AccountID: "acct-1", StrategyID: "momentum", Stage: domain.StagePaper,
		Status: domain.EvalPass, Score: 0.5, EvidenceHash: "same-hash", EvaluatedAt: now,
	}
	require.NoError(t, s.RecordEvaluation(ctx, rec))
	rec.Score = 0.99 // would change the row if re-inserted
	require.NoError(t, s.RecordEvaluation(ctx, rec))

	recs, err := s.LatestEvaluations(ctx, "acct-1", "momentum", []domain.EvaluationStage{domain.StagePaper})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 0.5, recs[0].Score, 0.0001, "re-recording the same evidence hash is a no-op")
}

func TestStore_LatestEvaluations_MissingStageIsOmitted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs, err := s.LatestEvaluations(ctx, "acct-1", "momentum", []domain.EvaluationStage{domain.StageLive})
	require.NoError(t, err)
	assert.Empty(t, recs)
}
