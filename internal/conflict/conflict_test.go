package conflict

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/todosync/internal/entity"
)

const (
	canonicalID = "3f2b8e4c-1d5a-4c6b-9e7f-0a1b2c3d4e5f"
	localID     = "local-1700000000000"
)

var (
	t0      = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	fixedAt = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
)

func intp(v int) *int { return &v }

func task(id, title string, updated time.Time) entity.Task {
	return entity.Task{
		Meta: entity.Meta{
			ID:        id,
			CreatedAt: t0,
			UpdatedAt: updated,
		},
		Title: title,
	}
}

func testDetector() *Detector[entity.Task] {
	d := NewDetector[entity.Task]()
	d.nowFunc = func() time.Time { return fixedAt }

	return d
}

func testResolver() *Resolver[entity.Task] {
	r := NewResolver[entity.Task]()
	r.nowFunc = func() time.Time { return fixedAt }

	return r
}

// --- Detector ---

func TestDetect_NoDifferenceIsNil(t *testing.T) {
	local := task("a1", "Buy milk", t0)
	remote := task("a1", "Buy milk", t0.Add(10*time.Minute))

	assert.Nil(t, testDetector().Detect(local, remote), "updatedAt alone is not a conflict")
}

func TestDetect_BuyMilkScenario(t *testing.T) {
	local := task("a1", "Buy milk", t0)
	remote := task("a1", "Buy milk", t0.Add(30*time.Second))
	remote.Completed = true

	info := testDetector().Detect(local, remote)
	require.NotNil(t, info)

	assert.Equal(t, TypeConcurrentModification, info.Type)
	assert.Equal(t, []string{"completed"}, info.Fields)
	assert.Equal(t, SeverityMedium, info.Severity)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, fixedAt, info.DetectedAt)

	res := testResolver().Resolve(info, Options{PreferRecent: true})
	assert.Equal(t, StrategyUseRemote, res.Strategy)
	assert.True(t, res.Resolved.Completed)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	assert.True(t, res.Resolved.Synced)
}

func TestDetect_ConcurrentWindowBoundary(t *testing.T) {
	tests := []struct {
		name string
		gap  time.Duration
		want Type
	}{
		{name: "59s", gap: 59 * time.Second, want: TypeConcurrentModification},
		{name: "59s reversed", gap: -59 * time.Second, want: TypeConcurrentModification},
		{name: "60s", gap: 60 * time.Second, want: TypeDataInconsistency},
		{name: "61s", gap: 61 * time.Second, want: TypeDataInconsistency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := task("a1", "Buy milk", t0)
			remote := task("a1", "Buy oat milk", t0.Add(tt.gap))

			info := testDetector().Detect(local, remote)
			require.NotNil(t, info)
			assert.Equal(t, tt.want, info.Type)
		})
	}
}

func TestDetect_IDFormatRequiresMatchingTitles(t *testing.T) {
	local := task(localID, "  Buy   MILK ", t0)
	local.Description = "2 liters"
	remote := task(canonicalID, "buy milk", t0.Add(time.Hour))

	info := testDetector().Detect(local, remote)
	require.NotNil(t, info)
	assert.Equal(t, TypeIDFormat, info.Type)
	assert.Equal(t, SeverityHigh, info.Severity)

	other := task(canonicalID, "Walk dog", t0.Add(time.Hour))
	info = testDetector().Detect(local, other)
	require.NotNil(t, info)
	assert.Equal(t, TypeDataInconsistency, info.Type)
}

func TestDetectDuplicate_AlwaysIDFormat(t *testing.T) {
	local := task(localID, "Buy milk", t0)
	remote := task(canonicalID, "Buy milk", t0)

	info := testDetector().DetectDuplicate(local, remote)
	require.NotNil(t, info)
	assert.Equal(t, TypeIDFormat, info.Type)
	assert.Empty(t, info.Fields)
	assert.NotNil(t, info.Fields)
}

func TestSeverity_Escalation(t *testing.T) {
	tests := []struct {
		typ    Type
		fields int
		want   Severity
	}{
		{TypeDataInconsistency, 1, SeverityLow},
		{TypeDataInconsistency, 2, SeverityHigh},
		{TypeDataInconsistency, 4, SeverityCritical},
		{TypeConcurrentModification, 1, SeverityMedium},
		{TypeConcurrentModification, 3, SeverityHigh},
		{TypeIDFormat, 0, SeverityHigh},
		{TypeIDFormat, 2, SeverityHigh},
		{TypeIDFormat, 5, SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, severity(tt.typ, tt.fields), "%s with %d fields", tt.typ, tt.fields)
	}
}

func TestSeverity_MonotonicInFieldCount(t *testing.T) {
	for _, typ := range []Type{TypeIDFormat, TypeConcurrentModification, TypeDataInconsistency, TypeMergeConflict} {
		prev := severity(typ, 0)

		for n := 1; n <= 8; n++ {
			cur := severity(typ, n)
			assert.GreaterOrEqual(t, cur, prev, "%s: %d fields", typ, n)
			prev = cur
		}
	}
}

// --- Resolver ---

func TestResolve_MergeConfidenceAndSynced(t *testing.T) {
	local := task("a1", "Buy milk and bread", t0)
	local.Priority = intp(2)
	remote := task("a1", "Buy milk", t0.Add(20*time.Second))
	remote.Priority = intp(4)
	remote.Description = "corner shop"

	info := testDetector().Detect(local, remote)
	require.NotNil(t, info)
	require.Equal(t, TypeConcurrentModification, info.Type)

	res := testResolver().Resolve(info, Options{})
	assert.Equal(t, StrategyMerge, res.Strategy)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	assert.True(t, res.Resolved.Synced)
	require.NotNil(t, res.Resolved.LastSyncTime)
	assert.Equal(t, fixedAt, *res.Resolved.LastSyncTime)
	assert.Equal(t, fixedAt, res.Resolved.UpdatedAt)

	assert.Equal(t, "Buy milk and bread", res.Resolved.Title, "longer title wins")
	assert.Equal(t, "corner shop", res.Resolved.Description)
	require.NotNil(t, res.Resolved.Priority)
	assert.Equal(t, 4, *res.Resolved.Priority)
}

func TestResolve_MergeCompletionIsSticky(t *testing.T) {
	done := t0.Add(5 * time.Second)

	local := task("a1", "Buy milk", t0)
	local.Completed = true
	local.CompletedAt = &done
	remote := task("a1", "Buy milk", t0.Add(40*time.Second))
	remote.Description = "later edit"

	info := testDetector().Detect(local, remote)
	require.NotNil(t, info)

	res := testResolver().Resolve(info, Options{})
	assert.True(t, res.Resolved.Completed)
	require.NotNil(t, res.Resolved.CompletedAt)
	assert.True(t, done.Equal(*res.Resolved.CompletedAt))
	assert.Equal(t, "later edit", res.Resolved.Description)
}

func TestResolve_PreferRecentLocalWins(t *testing.T) {
	local := task("a1", "Buy milk", t0.Add(30*time.Second))
	local.Completed = true
	remote := task("a1", "Buy milk", t0)

	info := testDetector().Detect(local, remote)
	require.NotNil(t, info)

	res := testResolver().Resolve(info, Options{PreferRecent: true})
	assert.Equal(t, StrategyUseLocal, res.Strategy)
	assert.True(t, res.Resolved.Completed)
}

func TestResolve_DataInconsistency(t *testing.T) {
	local := task("a1", "Buy milk", t0)
	remote := task("a1", "Buy oat milk", t0.Add(time.Hour))

	info := testDetector().Detect(local, remote)
	require.NotNil(t, info)
	require.Equal(t, TypeDataInconsistency, info.Type)

	t.Run("manual without auto merge", func(t *testing.T) {
		res := testResolver().Resolve(info, Options{})
		assert.Equal(t, StrategyManual, res.Strategy)
		assert.InDelta(t, 0.3, res.Confidence, 1e-9)
		assert.Equal(t, local, res.Resolved)
	})

	t.Run("auto merge small", func(t *testing.T) {
		res := testResolver().Resolve(info, Options{AutoMerge: true})
		assert.Equal(t, StrategyMerge, res.Strategy)
		assert.Equal(t, "Buy oat milk", res.Resolved.Title)
	})

	t.Run("threshold refuses auto merge", func(t *testing.T) {
		res := testResolver().Resolve(info, Options{AutoMerge: true, ConflictThreshold: SeverityLow})
		assert.Equal(t, StrategyManual, res.Strategy)
	})

	t.Run("too many fields", func(t *testing.T) {
		wide := remote
		wide.Description = "x"
		wide.Priority = intp(1)

		info := testDetector().Detect(local, wide)
		require.NotNil(t, info)
		require.Len(t, info.Fields, 3)

		res := testResolver().Resolve(info, Options{AutoMerge: true})
		assert.Equal(t, StrategyManual, res.Strategy)
	})
}

func TestResolve_IDFormatCanonicalWins(t *testing.T) {
	local := task(localID, "Buy milk", t0)
	local.Description = "stale"
	remote := task(canonicalID, "Buy milk", t0.Add(time.Hour))
	remote.Description = "fresh"

	info := testDetector().Detect(local, remote)
	require.NotNil(t, info)
	require.Equal(t, TypeIDFormat, info.Type)

	res := testResolver().Resolve(info, Options{})
	assert.Equal(t, StrategyUseRemote, res.Strategy)
	assert.Equal(t, canonicalID, res.Resolved.ID)
	assert.Equal(t, "fresh", res.Resolved.Description)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.True(t, res.Resolved.Synced)
}

func TestResolve_IDFormatCanonicalTakesNewerEdits(t *testing.T) {
	local := task(canonicalID, "Buy milk", t0)
	remote := task("1234", "Buy milk", t0.Add(time.Hour))
	remote.Description = "newer on server"
	remote.CreatedAt = t0.Add(-time.Hour)

	info := testDetector().Detect(local, remote)
	require.NotNil(t, info)
	require.Equal(t, TypeIDFormat, info.Type)

	res := testResolver().Resolve(info, Options{})
	assert.Equal(t, StrategyMerge, res.Strategy)
	assert.Equal(t, canonicalID, res.Resolved.ID)
	assert.Equal(t, "newer on server", res.Resolved.Description)
	assert.Equal(t, t0.Add(-time.Hour), res.Resolved.CreatedAt)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestResolve_IDFormatCreatedAtFallback(t *testing.T) {
	local := task(localID, "Buy milk", t0)
	local.Description = "a"
	remote := task("98765", "Buy milk", t0)
	remote.Description = "b"

	info := testDetector().Detect(local, remote)
	require.NotNil(t, info)
	require.Equal(t, TypeIDFormat, info.Type)

	res := testResolver().Resolve(info, Options{})
	assert.Equal(t, StrategyUseRemote, res.Strategy, "tie goes remote without PreferLocal")
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)

	res = testResolver().Resolve(info, Options{PreferLocal: true})
	assert.Equal(t, StrategyUseLocal, res.Strategy)

	older := local
	older.CreatedAt = t0.Add(-time.Minute)
	info = testDetector().Detect(older, remote)
	require.NotNil(t, info)

	res = testResolver().Resolve(info, Options{})
	assert.Equal(t, StrategyUseLocal, res.Strategy)
	assert.Equal(t, localID, res.Resolved.ID)
}

func TestChoose(t *testing.T) {
	local := task("a1", "Buy milk", t0)
	remote := task("a1", "Buy oat milk", t0.Add(time.Hour))

	info := testDetector().Detect(local, remote)
	require.NotNil(t, info)

	r := testResolver()

	res, err := r.Choose(info, StrategyUseLocal)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", res.Resolved.Title)

	res, err = r.Choose(info, StrategyUseRemote)
	require.NoError(t, err)
	assert.Equal(t, "Buy oat milk", res.Resolved.Title)

	res, err = r.Choose(info, StrategyMerge)
	require.NoError(t, err)
	assert.Equal(t, StrategyMerge, res.Strategy)

	_, err = r.Choose(info, StrategyManual)
	assert.Error(t, err)
}

func TestInfo_JSONUsesNames(t *testing.T) {
	info := testDetector().Detect(task("a1", "x", t0), task("a1", "y", t0))
	require.NotNil(t, info)

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"concurrent-modification"`)
	assert.Contains(t, string(data), `"severity":"medium"`)

	var back Info[entity.Task]
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, info.Type, back.Type)
	assert.Equal(t, info.Severity, back.Severity)
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity("high")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, s)

	_, err = ParseSeverity("extreme")
	assert.Error(t, err)
}
