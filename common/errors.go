package common

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ShapeMismatch is returned when the rows or columns of related arrays
// disagree.
type ShapeMismatch struct {
	Op       string
	Expected [2]int
	Found    [2]int
}

func (s ShapeMismatch) Error() string {
	return fmt.Sprintf("gpcheck: %s shape mismatch. expected: %v, found: %v", s.Op, s.Expected, s.Found)
}

var ErrInputDimension error = errors.New("gpcheck: input dimension mismatch")
var ErrNoData error = errors.New("gpcheck: nil data")

// VerifyShape returns a ShapeMismatch if m does not have r rows and c columns.
// A negative r or c is not checked.
func VerifyShape(op string, m mat.Matrix, r, c int) error {
	if m == nil {
		return ErrNoData
	}
	mr, mc := m.Dims()
	if (r >= 0 && mr != r) || (c >= 0 && mc != c) {
		return ShapeMismatch{
			Op:       op,
			Expected: [2]int{r, c},
			Found:    [2]int{mr, mc},
		}
	}
	return nil
}

// VerifyInputs checks that dLdK has one row per row of X and one column per
// row of X2 (or of X when X2 is nil).
func VerifyInputs(op string, dLdK, X, X2 mat.Matrix) error {
	if X == nil || dLdK == nil {
		return ErrNoData
	}
	n, _ := X.Dims()
	m := n
	if X2 != nil {
		m, _ = X2.Dims()
	}
	return VerifyShape(op, dLdK, n, m)
}
