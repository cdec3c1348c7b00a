package baseline

import (
	"math"

	"github.com/enmstack/analytics-service/internal/enmserr"
)

// olsFit holds an ordinary-least-squares solution and its fit statistics.
type olsFit struct {
	Intercept      float64
	Coefficients   []float64
	RSquared       float64
	RMSE           float64
	MAE            float64
	ResidualStdDev float64
	Samples        int
}

// fitOLS solves energy = b0 + sum(bi*xi) by the normal equations with
// partial-pivot Gaussian elimination. rows is n x p, y is length n.
func fitOLS(rows [][]float64, y []float64) (*olsFit, error) {
	n := len(rows)
	if n == 0 || n != len(y) {
		return nil, enmserr.New(enmserr.KindInsufficientData, "no samples to fit")
	}
	p := len(rows[0])

	// Design matrix with leading intercept column.
	dim := p + 1
	xtx := make([][]float64, dim)
	for i := range xtx {
		xtx[i] = make([]float64, dim)
	}
	xty := make([]float64, dim)

	for r := 0; r < n; r++ {
		row := make([]float64, dim)
		row[0] = 1
		copy(row[1:], rows[r])
		for i := 0; i < dim; i++ {
			xty[i] += row[i] * y[r]
			for j := i; j < dim; j++ {
				xtx[i][j] += row[i] * row[j]
			}
		}
	}
	// Mirror the upper triangle.
	for i := 1; i < dim; i++ {
		for j := 0; j < i; j++ {
			xtx[i][j] = xtx[j][i]
		}
	}

	beta, err := solveLinear(xtx, xty)
	if err != nil {
		return nil, err
	}

	fit := &olsFit{
		Intercept:    beta[0],
		Coefficients: beta[1:],
		Samples:      n,
	}

	// Residual statistics.
	meanY := 0.0
	for _, v := range y {
		meanY += v
	}
	meanY /= float64(n)

	var ssRes, ssTot, absErr, residSum, residSqSum float64
	for r := 0; r < n; r++ {
		pred := beta[0]
		for j := 0; j < p; j++ {
			pred += beta[j+1] * rows[r][j]
		}
		resid := y[r] - pred
		ssRes += resid * resid
		ssTot += (y[r] - meanY) * (y[r] - meanY)
		absErr += math.Abs(resid)
		residSum += resid
		residSqSum += resid * resid
	}

	if ssTot > 0 {
		fit.RSquared = 1 - ssRes/ssTot
	}
	fit.RMSE = math.Sqrt(ssRes / float64(n))
	fit.MAE = absErr / float64(n)

	meanResid := residSum / float64(n)
	fit.ResidualStdDev = math.Sqrt(residSqSum/float64(n) - meanResid*meanResid)

	return fit, nil
}

// solveLinear solves Ax = b in place with partial pivoting. A near-singular
// system (collinear features the pruning missed) comes back as
// InsufficientData rather than exploding coefficients.
func solveLinear(a [][]float64, b []float64) ([]float64, error) {
	dim := len(a)
	for col := 0; col < dim; col++ {
		pivot := col
		for row := col + 1; row < dim; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, enmserr.New(enmserr.KindInsufficientData,
				"design matrix is singular; features are collinear or constant")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < dim; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < dim; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	x := make([]float64, dim)
	for row := dim - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < dim; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}

// pearson computes the correlation coefficient between two equal-length
// series. Returns 0 when either side has zero variance.
func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return 0
	}
	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= n
	meanY /= n

	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
