package baseline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enmstack/analytics-service/internal/models"
)

func TestBlobStoreSaveLoad(t *testing.T) {
	store, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	machineID := "m-42"
	model := &models.BaselineModel{
		ID:             "model-1",
		MachineID:      &machineID,
		EnergySource:   "electricity",
		ModelVersion:   3,
		Granularity:    models.Granularity1Hour,
		Features:       []string{"total_production_count", "avg_outdoor_temp_c"},
		Intercept:      12.5,
		Coefficients:   []float64{0.8, -1.2},
		RSquared:       0.91,
		ResidualStdDev: 4.2,
	}

	path, err := store.Save(model)
	require.NoError(t, err)
	assert.Contains(t, path, "machine_m-42_electricity_v3.json")

	blob, err := store.Load(path)
	require.NoError(t, err)
	assert.Equal(t, model.ID, blob.ModelID)
	assert.Equal(t, model.Granularity, blob.Granularity)
	assert.Equal(t, model.Features, blob.Features)
	assert.Equal(t, model.Intercept, blob.Intercept)
	assert.Equal(t, model.Coefficients, blob.Coefficients)
	assert.Equal(t, model.ResidualStdDev, blob.ResidualStdDev)
}

func TestBlobStoreLoadMissing(t *testing.T) {
	store, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("/nonexistent/blob.json")
	assert.Error(t, err)
}
