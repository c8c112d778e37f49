package testkit

import (
	"context"
	"testing"

	"gommrm/domain/core"
	"gommrm/domain/run"
	"gommrm/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLedgerFitRoundTrip(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	rec := ports.FitRecord{ID: "fit-1", Structure: "ar1", NumObs: 120, NumCoef: 4, NumTheta: 2, NegLogLik: 310.5}
	require.NoError(t, l.StoreFit(ctx, rec))
	assert.Error(t, l.StoreFit(ctx, rec), "duplicate fit accepted")

	got, err := l.GetFit(ctx, "fit-1")
	require.NoError(t, err)
	assert.Equal(t, "ar1", got.Structure)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = l.GetFit(ctx, "fit-2")
	assert.Error(t, err)
}

func TestInMemoryLedgerContrasts(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	require.NoError(t, l.StoreContrast(ctx, ports.ContrastRecord{FitID: "fit-1", Label: "trt at VIS2", Method: "kenward-roger"}))
	require.NoError(t, l.StoreContrast(ctx, ports.ContrastRecord{FitID: "fit-1", Label: "trt at VIS3", Method: "kenward-roger"}))

	recs, err := l.ListContrasts(ctx, "fit-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "trt at VIS2", recs[0].Label)

	other, err := l.ListContrasts(ctx, "fit-9")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestInMemoryLedgerManifests(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	m := run.NewManifest(
		core.FitID("fit-1"),
		core.NewPanelHash([]byte("panel")),
		core.NewDesignHash([]byte("design")),
		"cs",
		[]string{"VIS1", "VIS2"},
		[]string{"1", "treatment"},
		[]string{"empirical"},
		10, 20,
		"dev",
	)
	require.NoError(t, l.StoreManifest(ctx, m))
	assert.Error(t, l.StoreManifest(ctx, m), "duplicate manifest accepted")

	got, err := l.GetManifest(ctx, "fit-1")
	require.NoError(t, err)
	assert.True(t, got.Replayable(m))

	invalid := &run.Manifest{}
	assert.Error(t, l.StoreManifest(ctx, invalid))
}
