package capability_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Ramsey-B/argus/internal/testutil"
	"github.com/Ramsey-B/argus/pkg/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeHasColumn(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLite(t, testutil.ContractsLegacy, testutil.RequestsModern)
	probe := capability.NewProbe(db, testutil.Logger())

	present, err := probe.HasColumn(ctx, "solicitudes", "folio")
	require.NoError(t, err)
	assert.True(t, present)

	present, err = probe.HasColumn(ctx, "contratos", "folio")
	require.NoError(t, err)
	assert.False(t, present)

	t.Run("answers are cached for the process", func(t *testing.T) {
		testutil.Exec(t, db, "ALTER TABLE contratos ADD COLUMN folio TEXT")

		present, err := probe.HasColumn(ctx, "contratos", "folio")
		require.NoError(t, err)
		assert.False(t, present)

		fresh := capability.NewProbe(db, testutil.Logger())
		present, err = fresh.HasColumn(ctx, "contratos", "folio")
		require.NoError(t, err)
		assert.True(t, present)
	})

	t.Run("failures are not cached", func(t *testing.T) {
		fresh := capability.NewProbe(db, testutil.Logger())

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := fresh.HasColumn(canceled, "solicitudes", "estatus")
		require.Error(t, err)

		present, err := fresh.HasColumn(ctx, "solicitudes", "estatus")
		require.NoError(t, err)
		assert.True(t, present)
	})

	report := probe.Report()
	require.Len(t, report.Columns, 2)
	assert.Equal(t, "contratos", report.Columns[0].Table)
	assert.Equal(t, "unknown", report.JSONMode)
}

func TestProbeJSONBreaker(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLite(t, testutil.ContractsLegacy)
	probe := capability.NewProbe(db, testutil.Logger())

	assert.True(t, probe.SupportsJSONQuery(ctx))
	assert.Equal(t, capability.ModeNative, probe.Mode())
	assert.Equal(t, int64(0), probe.Trips())

	probe.MarkJSONUnsupported(ctx, errors.New("malformed JSON"))
	probe.MarkJSONUnsupported(ctx, errors.New("malformed JSON"))

	assert.False(t, probe.SupportsJSONQuery(ctx))
	assert.False(t, probe.SupportsJSONQuery(ctx))
	assert.Equal(t, capability.ModeDegraded, probe.Mode())
	assert.Equal(t, int64(1), probe.Trips())
}

func TestProbeJSONCanceledStaysUnresolved(t *testing.T) {
	db := testutil.SQLite(t, testutil.ContractsLegacy)
	probe := capability.NewProbe(db, testutil.Logger())

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, probe.SupportsJSONQuery(canceled))
	assert.Equal(t, capability.ModeUnknown, probe.Mode())
	assert.Equal(t, int64(0), probe.Trips())

	assert.True(t, probe.SupportsJSONQuery(context.Background()))
	assert.Equal(t, capability.ModeNative, probe.Mode())
}

func TestBreakerTripsOnce(t *testing.T) {
	var breaker capability.Breaker
	assert.Equal(t, capability.ModeNative, breaker.Resolve(true))
	assert.Equal(t, capability.ModeNative, breaker.Resolve(false))

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if breaker.Trip() {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitions)
	assert.Equal(t, capability.ModeDegraded, breaker.Mode())
	assert.Equal(t, capability.ModeDegraded, breaker.Resolve(true))
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	caps := capability.NewStatic(true, "contratos.folio")

	present, err := caps.HasColumn(ctx, "contratos", "folio")
	require.NoError(t, err)
	assert.True(t, present)

	present, err = caps.HasColumn(ctx, "contratos", "estatus")
	require.NoError(t, err)
	assert.False(t, present)

	caps.FailColumns(errors.New("catalog down"))
	_, err = caps.HasColumn(ctx, "contratos", "folio")
	assert.Error(t, err)
	caps.FailColumns(nil)

	assert.True(t, caps.SupportsJSONQuery(ctx))
	caps.MarkJSONUnsupported(ctx, nil)
	assert.False(t, caps.SupportsJSONQuery(ctx))
	assert.Equal(t, int64(3), caps.Lookups())
}
