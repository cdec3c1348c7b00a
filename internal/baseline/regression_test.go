package baseline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enmstack/analytics-service/internal/enmserr"
)

func TestFitOLSRecoversKnownCoefficients(t *testing.T) {
	// y = 5 + 2*x1 + 0.5*x2, exact data
	var rows [][]float64
	var target []float64
	for x1 := 0.0; x1 < 10; x1++ {
		for x2 := 0.0; x2 < 6; x2++ {
			rows = append(rows, []float64{x1, x2})
			target = append(target, 5+2*x1+0.5*x2)
		}
	}

	fit, err := fitOLS(rows, target)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, fit.Intercept, 1e-6)
	require.Len(t, fit.Coefficients, 2)
	assert.InDelta(t, 2.0, fit.Coefficients[0], 1e-6)
	assert.InDelta(t, 0.5, fit.Coefficients[1], 1e-6)
	assert.InDelta(t, 1.0, fit.RSquared, 1e-9)
	assert.InDelta(t, 0.0, fit.RMSE, 1e-6)
	assert.Equal(t, len(rows), fit.Samples)
}

func TestFitOLSNoisyDataReasonableFit(t *testing.T) {
	// y = 10 + 3*x with deterministic +/-1 noise
	var rows [][]float64
	var target []float64
	for i := 0; i < 100; i++ {
		x := float64(i)
		noise := 1.0
		if i%2 == 0 {
			noise = -1.0
		}
		rows = append(rows, []float64{x})
		target = append(target, 10+3*x+noise)
	}

	fit, err := fitOLS(rows, target)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, fit.Coefficients[0], 0.01)
	assert.Greater(t, fit.RSquared, 0.99)
	assert.Greater(t, fit.RMSE, 0.0)
	assert.Greater(t, fit.ResidualStdDev, 0.0)
}

func TestFitOLSSingularMatrix(t *testing.T) {
	// Second column is an exact copy of the first.
	rows := [][]float64{
		{1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 5},
	}
	target := []float64{2, 4, 6, 8, 10}

	_, err := fitOLS(rows, target)
	require.Error(t, err)
	assert.True(t, enmserr.IsKind(err, enmserr.KindInsufficientData))
}

func TestPearson(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}

	up := []float64{2, 4, 6, 8, 10}
	assert.InDelta(t, 1.0, pearson(x, up), 1e-9)

	down := []float64{10, 8, 6, 4, 2}
	assert.InDelta(t, -1.0, pearson(x, down), 1e-9)

	flat := []float64{3, 3, 3, 3, 3}
	assert.Equal(t, 0.0, pearson(x, flat))
}

func TestDeviationSeverity(t *testing.T) {
	sigma := 10.0
	assert.Equal(t, "info", DeviationSeverity(5, sigma))
	assert.Equal(t, "info", DeviationSeverity(-15, sigma))
	assert.Equal(t, "warning", DeviationSeverity(25, sigma))
	assert.Equal(t, "critical", DeviationSeverity(35, sigma))
	assert.Equal(t, "critical", DeviationSeverity(math.Inf(1), sigma))
}
