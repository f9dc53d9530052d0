// Package gates implements the layered linear virtualization of gate
// voltages: single transform layers, the layered gate set stacked over the
// physical channels, and the named voltage points registered against it.
package gates

import (
	"gonum.org/v1/gonum/mat"

	"github.com/timzifer/voltseq/value"
)

// determinantTolerance is the magnitude below which a square matrix is
// treated as singular.
const determinantTolerance = 1e-10

// Layer is one linear transform between virtual source gates and the
// physical or lower-virtual target gates one level below it. The matrix has
// shape (len(SourceGates), len(TargetGates)) and satisfies
// source = matrix · target; resolution applies its inverse.
type Layer struct {
	ID            string
	SourceGates   []string
	TargetGates   []string
	Matrix        [][]float64
	PseudoInverse bool
}

func (l *Layer) dense() *mat.Dense {
	rows := len(l.SourceGates)
	cols := len(l.TargetGates)
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, l.Matrix[i][j])
		}
	}
	return m
}

func (l *Layer) sourceIndex(name string) int {
	for i, g := range l.SourceGates {
		if g == name {
			return i
		}
	}
	return -1
}

// Inverse returns the matrix mapping source voltages onto target voltages,
// of shape (len(TargetGates), len(SourceGates)). Square matrices use the
// exact inverse; rectangular matrices (or layers flagged PseudoInverse) use
// the Moore-Penrose pseudo-inverse, which yields the minimum-norm
// least-squares resolution.
func (l *Layer) Inverse() ([][]float64, error) {
	m := l.dense()
	rows, cols := m.Dims()

	if rows == cols && !l.PseudoInverse {
		if det := mat.Det(m); det < determinantTolerance && det > -determinantTolerance {
			return nil, validationf("matrix of layer %q is not invertible (determinant %g)", l.ID, det)
		}
		var inv mat.Dense
		if err := inv.Inverse(m); err != nil {
			return nil, validationf("matrix inversion failed for layer %q: %v", l.ID, err)
		}
		return denseRows(&inv), nil
	}

	pinv, err := pseudoInverse(m)
	if err != nil {
		return nil, validationf("pseudo-inverse failed for layer %q: %v", l.ID, err)
	}
	return denseRows(pinv), nil
}

// ResolveVoltages removes this layer's source entries from the assignment and
// redistributes them onto the target gates through the inverse matrix. Source
// gates absent from the input contribute nothing; they are treated as 0, not
// as "hold". When allowExtra is false every key must be a source gate of this
// layer.
func (l *Layer) ResolveVoltages(voltages map[string]value.Value, allowExtra bool) (map[string]value.Value, error) {
	if !allowExtra {
		for name := range voltages {
			if l.sourceIndex(name) < 0 {
				return nil, &UnknownGateError{Gate: name}
			}
		}
	}

	inverse, err := l.Inverse()
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]value.Value, len(voltages)+len(l.TargetGates))
	for name, v := range voltages {
		if l.sourceIndex(name) < 0 {
			resolved[name] = v
		}
	}

	sourceVoltages := make([]value.Value, len(l.SourceGates))
	present := make([]bool, len(l.SourceGates))
	for i, name := range l.SourceGates {
		if v, ok := voltages[name]; ok {
			sourceVoltages[i] = v
			present[i] = true
		}
	}

	for t, target := range l.TargetGates {
		acc, ok := resolved[target]
		if !ok {
			acc = value.Concrete(0)
		}
		for s := range l.SourceGates {
			if !present[s] {
				continue
			}
			acc = value.Add(acc, value.Scale(sourceVoltages[s], inverse[t][s]))
		}
		resolved[target] = acc
	}
	return resolved, nil
}

func denseRows(m mat.Matrix) [][]float64 {
	rows, cols := m.Dims()
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// pseudoInverse computes the Moore-Penrose pseudo-inverse through a thin SVD,
// discarding singular values below a scale-relative cutoff.
func pseudoInverse(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return nil, validationf("SVD factorization did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	cutoff := 0.0
	for _, s := range values {
		if s > cutoff {
			cutoff = s
		}
	}
	rows, cols := m.Dims()
	larger := rows
	if cols > larger {
		larger = cols
	}
	cutoff *= float64(larger) * 2.220446049250313e-16

	sigmaInv := mat.NewDense(len(values), len(values), nil)
	for i, s := range values {
		if s > cutoff {
			sigmaInv.Set(i, i, 1/s)
		}
	}

	var tmp, pinv mat.Dense
	tmp.Mul(&v, sigmaInv)
	pinv.Mul(&tmp, u.T())
	return &pinv, nil
}
