package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/drought-severity-etl/internal/asset"
	"github.com/couchcryptid/drought-severity-etl/internal/domain"
	"github.com/couchcryptid/drought-severity-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDest = "projects/drought/pune/mulshi/drought_pune_mulshi_2023"

type fakeSink struct {
	mu      sync.Mutex
	assets  map[string]*geojson.FeatureCollection
	public  map[string]bool
	exports []string
	staged  map[asset.JobHandle]*geojson.FeatureCollection
	pending map[string]int
	fail    map[string]string
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		assets:  make(map[string]*geojson.FeatureCollection),
		public:  make(map[string]bool),
		staged:  make(map[asset.JobHandle]*geojson.FeatureCollection),
		pending: make(map[string]int),
		fail:    make(map[string]string),
	}
}

func (s *fakeSink) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assets[path]
	return ok, nil
}

func (s *fakeSink) Export(_ context.Context, fc *geojson.FeatureCollection, _, path string) (asset.JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports = append(s.exports, path)
	h := asset.JobHandle(path)
	s.staged[h] = fc
	return h, nil
}

func (s *fakeSink) JobStatus(_ context.Context, h asset.JobHandle) (asset.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := string(h)
	if s.pending[path] > 0 {
		s.pending[path]--
		return asset.JobStatus{Status: asset.StatusPending}, nil
	}
	if msg, ok := s.fail[path]; ok {
		return asset.JobStatus{Status: asset.StatusFailed, Message: msg}, nil
	}
	s.assets[path] = s.staged[h]
	return asset.JobStatus{Status: asset.StatusSucceeded}, nil
}

func (s *fakeSink) MakePublic(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.public[path] = true
	return nil
}

func (s *fakeSink) Read(_ context.Context, path string) (*geojson.FeatureCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc, ok := s.assets[path]
	if !ok {
		return nil, asset.ErrNotFound
	}
	return fc, nil
}

func (s *fakeSink) exportCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exports)
}

func zones(uids ...string) []domain.Zone {
	out := make([]domain.Zone, len(uids))
	for i, uid := range uids {
		out[i] = domain.Zone{UID: uid, Geometry: orb.Point{77, 20}}
	}
	return out
}

func featureTable(_ context.Context, zs []domain.Zone) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	for _, z := range zs {
		f := geojson.NewFeature(z.Geometry)
		f.Properties[domain.PropUID] = z.UID
		fc.Append(f)
	}
	return fc, nil
}

func uids(fc *geojson.FeatureCollection) []string {
	out := make([]string, len(fc.Features))
	for i, f := range fc.Features {
		out[i] = f.Properties.MustString(domain.PropUID)
	}
	return out
}

func newTestOrchestrator(sink asset.Sink, maxFeatures int, clock clockwork.Clock) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		MaxFeatures:  maxFeatures,
		Concurrency:  4,
		PollInterval: 30 * time.Second,
		JobTimeout:   90 * time.Second,
	}
	return New(sink, cfg, clock, logger, observability.NewMetricsForTesting())
}

func testBatch(zs []domain.Zone, compute ComputeFunc) Batch {
	return Batch{
		Year:        2023,
		Dest:        testDest,
		Description: "drought pune mulshi 2023",
		Zones:       zs,
		Compute:     compute,
		ChunkPath: func(start, end int) string {
			return "projects/drought/pune/mulshi/" + domain.ChunkAssetName("pune_mulshi", start, end, 2023)
		},
	}
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size int
		want []Chunk
	}{
		{"empty", 0, 10, nil},
		{"fits", 4, 4, []Chunk{{0, 0, 4}}},
		{"remainder", 5, 2, []Chunk{{0, 0, 2}, {1, 2, 4}, {2, 4, 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Partition(tt.n, tt.size))
		})
	}
}

func TestRun_DestinationExists(t *testing.T) {
	sink := newFakeSink()
	sink.assets[testDest] = geojson.NewFeatureCollection()
	o := newTestOrchestrator(sink, 10, nil)

	var computed atomic.Int32
	rep, err := o.Run(context.Background(), testBatch(zones("a", "b"), func(ctx context.Context, zs []domain.Zone) (*geojson.FeatureCollection, error) {
		computed.Add(1)
		return featureTable(ctx, zs)
	}))

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rep.State)
	assert.Zero(t, rep.Exports)
	assert.Zero(t, sink.exportCount())
	assert.Zero(t, computed.Load())
}

func TestRun_SingleExport(t *testing.T) {
	sink := newFakeSink()
	o := newTestOrchestrator(sink, 10, nil)

	rep, err := o.Run(context.Background(), testBatch(zones("b", "a", "c"), featureTable))

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rep.State)
	assert.Equal(t, 1, rep.Exports)
	assert.Equal(t, []string{testDest}, sink.exports)
	assert.True(t, sink.public[testDest])
	assert.Equal(t, []string{"b", "a", "c"}, uids(sink.assets[testDest]))
}

func TestRun_ChunkedMergeSortedByUID(t *testing.T) {
	sink := newFakeSink()
	o := newTestOrchestrator(sink, 2, nil)

	rep, err := o.Run(context.Background(), testBatch(zones("z5", "z4", "z3", "z2", "z1"), featureTable))

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rep.State)
	assert.Equal(t, 4, rep.Exports)
	require.Len(t, rep.Chunks, 3)
	assert.Equal(t, "projects/drought/pune/mulshi/pune_mulshi_drought_2-4_2023", rep.Chunks[1].Path)
	assert.Equal(t, []string{"z1", "z2", "z3", "z4", "z5"}, uids(sink.assets[testDest]))
	assert.True(t, sink.public[testDest])
}

func TestRun_ChunkingMatchesSingleBatch(t *testing.T) {
	zs := zones("k", "c", "x", "a", "m", "b", "q")

	chunked := newFakeSink()
	_, err := newTestOrchestrator(chunked, 3, nil).Run(context.Background(), testBatch(zs, featureTable))
	require.NoError(t, err)

	whole := newFakeSink()
	_, err = newTestOrchestrator(whole, 100, nil).Run(context.Background(), testBatch(zs, featureTable))
	require.NoError(t, err)

	assert.ElementsMatch(t, uids(whole.assets[testDest]), uids(chunked.assets[testDest]))
}

func TestRun_FailedChunkSkipsMerge(t *testing.T) {
	sink := newFakeSink()
	b := testBatch(zones("a", "b", "c", "d", "e"), featureTable)
	failedPath := b.ChunkPath(2, 4)
	sink.fail[failedPath] = "quota exceeded"
	o := newTestOrchestrator(sink, 2, nil)

	rep, err := o.Run(context.Background(), b)

	require.Error(t, err)
	var incomplete *domain.IncompleteMergeError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []int{1}, incomplete.Chunks)
	var failed *domain.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.Chunk)
	assert.Equal(t, "quota exceeded", failed.Reason)

	assert.Equal(t, StateFailed, rep.State)
	assert.Equal(t, []int{1}, rep.FailedChunks)
	assert.Equal(t, StateCompleted, rep.Chunks[0].State)
	assert.Equal(t, StateCompleted, rep.Chunks[2].State)
	assert.NotContains(t, sink.exports, testDest)
	assert.NotContains(t, sink.assets, testDest)
}

func TestRun_ComputeErrorDoesNotCancelSiblings(t *testing.T) {
	sink := newFakeSink()
	boom := errors.New("backend unavailable")
	compute := func(ctx context.Context, zs []domain.Zone) (*geojson.FeatureCollection, error) {
		if zs[0].UID == "a" {
			return nil, boom
		}
		return featureTable(ctx, zs)
	}
	o := newTestOrchestrator(sink, 1, nil)

	rep, err := o.Run(context.Background(), testBatch(zones("a", "b", "c"), compute))

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{0}, rep.FailedChunks)
	assert.Equal(t, 2, rep.Exports)
}

func TestRun_ResumesFromExistingChunks(t *testing.T) {
	sink := newFakeSink()
	b := testBatch(zones("c", "d", "a", "b"), nil)
	existing, _ := featureTable(context.Background(), zones("c", "d"))
	sink.assets[b.ChunkPath(0, 2)] = existing

	var computed []string
	var mu sync.Mutex
	b.Compute = func(ctx context.Context, zs []domain.Zone) (*geojson.FeatureCollection, error) {
		mu.Lock()
		computed = append(computed, zs[0].UID)
		mu.Unlock()
		return featureTable(ctx, zs)
	}
	o := newTestOrchestrator(sink, 2, nil)

	rep, err := o.Run(context.Background(), b)

	require.NoError(t, err)
	assert.True(t, rep.Chunks[0].Skipped)
	assert.Equal(t, []string{"a"}, computed)
	assert.Equal(t, 2, rep.Exports)
	assert.Equal(t, []string{"a", "b", "c", "d"}, uids(sink.assets[testDest]))
}

func TestRun_PollsUntilJobResolves(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := newFakeSink()
	sink.pending[testDest] = 2
	o := newTestOrchestrator(sink, 10, clock)

	type result struct {
		rep *Report
		err error
	}
	done := make(chan result, 1)
	go func() {
		rep, err := o.Run(context.Background(), testBatch(zones("a"), featureTable))
		done <- result{rep, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for range 2 {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(30 * time.Second)
	}

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StateCompleted, res.rep.State)
}

func TestRun_JobTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := newFakeSink()
	sink.pending[testDest] = 1000
	o := newTestOrchestrator(sink, 10, clock)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), testBatch(zones("a"), featureTable))
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for range 3 {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(30 * time.Second)
	}

	err := <-done
	var timeout *domain.JobTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 90*time.Second, timeout.Waited)
	assert.Equal(t, testDest, timeout.Path)

	var failed *domain.JobFailedError
	assert.False(t, errors.As(err, &failed), "timeout is distinct from failure")
}

func TestRun_CancelledWhilePolling(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := newFakeSink()
	sink.pending[testDest] = 1000
	o := newTestOrchestrator(sink, 10, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Run(ctx, testBatch(zones("a"), featureTable))
		done <- err
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_SerializesPerDestination(t *testing.T) {
	sink := newFakeSink()
	o := newTestOrchestrator(sink, 10, nil)

	var wg sync.WaitGroup
	reports := make([]*Report, 4)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := o.Run(context.Background(), testBatch(zones("a", "b"), featureTable))
			assert.NoError(t, err)
			reports[i] = rep
		}()
	}
	wg.Wait()

	total := 0
	for _, rep := range reports {
		total += rep.Exports
	}
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, sink.exportCount())
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	var k keyedMutex
	for i := range 3 {
		unlock := k.lock(fmt.Sprintf("dest-%d", i%2))
		unlock()
	}
	assert.Empty(t, k.locks)
}
