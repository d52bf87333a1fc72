// Package calibration fits the affine gaze-to-screen transform from
// calibration points and persists it.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// MinPoints is the number of points needed to determine the transform.
const MinPoints = 3

const rankEpsilon = 0x1p-52

// Sentinel kinds for calibration errors.
var (
	ErrNotEnoughPoints = errors.New("At least 3 calibration points required") //nolint:stylecheck,revive // surfaced verbatim to the frontend
	ErrDegenerate      = errors.New("calibration points are degenerate")
)

// Point pairs a target screen coordinate with the measured gaze centroid.
type Point struct {
	ScreenX   float64 `json:"screen_x"`
	ScreenY   float64 `json:"screen_y"`
	MeasuredX float64 `json:"measured_x"`
	MeasuredY float64 `json:"measured_y"`
}

// Transform maps measured coordinates to screen: screen ≈ A·measured + b.
type Transform struct {
	A [2][2]float64 `json:"A"`
	B [2]float64    `json:"b"`
}

// Apply maps a measured point to screen coordinates.
func (t Transform) Apply(mx, my float64) (float64, float64) {
	return t.A[0][0]*mx + t.A[0][1]*my + t.B[0],
		t.A[1][0]*mx + t.A[1][1]*my + t.B[1]
}

// Fit solves two independent least-squares problems, one per screen axis,
// with design matrix rows [measured_x, measured_y, 1]. Collinear or
// repeated measurements yield the minimum-norm solution.
func Fit(points []Point) (Transform, error) {
	if len(points) < MinPoints {
		return Transform{}, fmt.Errorf("%w. Current points: %d", ErrNotEnoughPoints, len(points))
	}

	n := len(points)
	x := mat.NewDense(n, 3, nil)
	sx := mat.NewVecDense(n, nil)
	sy := mat.NewVecDense(n, nil)
	for i, p := range points {
		x.SetRow(i, []float64{p.MeasuredX, p.MeasuredY, 1})
		sx.SetVec(i, p.ScreenX)
		sy.SetVec(i, p.ScreenY)
	}

	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return Transform{}, ErrDegenerate
	}
	// Singular values below eps*max(n, 3) relative to the largest are
	// treated as zero, so rank-deficient inputs get the minimum-norm fit.
	rank := svd.Rank(rankEpsilon * float64(max(n, 3)))
	if rank == 0 {
		return Transform{}, ErrDegenerate
	}

	var px, py mat.VecDense
	svd.SolveVecTo(&px, sx, rank)
	svd.SolveVecTo(&py, sy, rank)

	return Transform{
		A: [2][2]float64{
			{px.AtVec(0), px.AtVec(1)},
			{py.AtVec(0), py.AtVec(1)},
		},
		B: [2]float64{px.AtVec(2), py.AtVec(2)},
	}, nil
}

// Save writes the transform as JSON, replacing path atomically.
func Save(path string, t Transform) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transform: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".calibration-*.json")
	if err != nil {
		return fmt.Errorf("create temp calibration file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write calibration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close calibration: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace calibration: %w", err)
	}
	return nil
}

// Load reads a transform previously written by Save.
func Load(path string) (Transform, error) {
	var t Transform
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read calibration: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("decode calibration: %w", err)
	}
	return t, nil
}
