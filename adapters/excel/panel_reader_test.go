package excel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "panel.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadPanelCSV(t *testing.T) {
	path := writeCSV(t, `subject,visit,response,weight,group,treatment
S1,VIS1,1.0,,siteA,0
S1,VIS2,1.5,,siteA,0
S2,VIS1,2.0,2,siteB,1
S2,VIS2,2.5,2,siteB,1
`)

	r := NewPanelReader(DefaultColumns(), nil, nil)
	panel, err := r.ReadPanel(context.Background(), path)
	require.NoError(t, err)

	assert.Len(t, panel.Records, 4)
	assert.Equal(t, []string{"VIS1", "VIS2"}, panel.VisitLevels)
	assert.Equal(t, []string{"treatment"}, panel.CovariateNames)
	assert.Equal(t, "siteB", panel.Records[2].Group)
	assert.InDelta(t, 2.0, panel.Records[2].Weight, 0)
	assert.InDelta(t, 1.0, panel.Records[0].Weight, 0) // defaulted
	assert.InDelta(t, 1.0, panel.Records[3].Covariates["treatment"], 0)
}

func TestReadPanelSkipsMissingResponses(t *testing.T) {
	path := writeCSV(t, `subject,visit,response
S1,VIS1,1.0
S1,VIS2,
S2,VIS1,2.0
`)

	r := NewPanelReader(DefaultColumns(), nil, nil)
	panel, err := r.ReadPanel(context.Background(), path)
	require.NoError(t, err)

	// the blank response row is dropped, its visit level never observed
	assert.Len(t, panel.Records, 2)
	assert.Equal(t, []string{"VIS1"}, panel.VisitLevels)
}

func TestReadPanelExplicitVisitOrder(t *testing.T) {
	path := writeCSV(t, `subject,visit,response
S1,VIS2,1.5
S1,VIS1,1.0
`)

	r := NewPanelReader(DefaultColumns(), []string{"VIS1", "VIS2"}, nil)
	panel, err := r.ReadPanel(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"VIS1", "VIS2"}, panel.VisitLevels)

	i, ok := panel.VisitIndex("VIS2")
	require.True(t, ok)
	assert.Equal(t, 1, i)
}

func TestReadPanelErrors(t *testing.T) {
	r := NewPanelReader(DefaultColumns(), nil, nil)
	ctx := context.Background()

	_, err := r.ReadPanel(ctx, filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)

	missing := writeCSV(t, "subject,visit\nS1,VIS1\n")
	_, err = r.ReadPanel(ctx, missing)
	assert.ErrorContains(t, err, "response")

	headerOnly := writeCSV(t, "subject,visit,response\n")
	_, err = r.ReadPanel(ctx, headerOnly)
	assert.Error(t, err)

	badValue := writeCSV(t, "subject,visit,response\nS1,VIS1,abc\n")
	_, err = r.ReadPanel(ctx, badValue)
	assert.ErrorContains(t, err, "not numeric")

	badCov := writeCSV(t, "subject,visit,response,biomarker\nS1,VIS1,1.0,low\n")
	_, err = r.ReadPanel(ctx, badCov)
	assert.ErrorContains(t, err, "biomarker")
}

func TestReadPanelCustomColumns(t *testing.T) {
	path := writeCSV(t, `id,week,aval
P-01,W1,0.5
P-01,W2,0.7
`)

	cols := Columns{Subject: "id", Visit: "week", Response: "aval"}
	r := NewPanelReader(cols, nil, nil)
	panel, err := r.ReadPanel(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, panel.Records, 2)
	assert.Equal(t, "P-01", string(panel.Records[0].Subject))
}
