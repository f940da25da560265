// Package checkgrad compares analytic gradients against central finite
// differences of a scalar objective.
package checkgrad

import (
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"gonum.org/v1/gonum/diff/fd"
)

// Model is a scalar objective with a free-parameter vector and an analytic
// gradient. SetParameters is expected to refresh the analytic gradient.
type Model interface {
	NumParameters() int
	Parameters(dst []float64) []float64
	SetParameters(x []float64) error
	Objective() (float64, error)
	Gradient(dst []float64) []float64
}

// Fixer is implemented by models that hold some parameters constant. Fixed
// parameters are neither perturbed nor compared.
type Fixer interface {
	Fixed() []bool
}

// Namer is implemented by models that can label their parameters.
type Namer interface {
	ParameterNames() []string
}

// Settings controls a gradient check.
type Settings struct {
	Step      float64   // Finite-difference step
	Tolerance float64   // Accepted relative or absolute disagreement
	Verbose   bool      // Print a comparison table to Writer
	Writer    io.Writer // Destination of the table. Nil means os.Stdout.
}

// DefaultSettings returns the step and tolerance used throughout the module.
func DefaultSettings() Settings {
	return Settings{
		Step:      1e-6,
		Tolerance: 1e-3,
	}
}

// Row is the comparison of one free parameter.
type Row struct {
	Name       string
	Analytic   float64
	Numeric    float64
	Ratio      float64
	Difference float64
	Pass       bool
}

// Result holds the outcome of a check.
type Result struct {
	Rows []Row
	Pass bool
}

// Check reports whether the analytic gradient of m agrees with the central
// difference of its objective within the tolerance. Errors raised by the
// model (including not-implemented signals) are returned unchanged.
func Check(m Model, s Settings) (bool, error) {
	res, err := Compare(m, s)
	if err != nil {
		return false, err
	}
	if s.Verbose {
		w := s.Writer
		if w == nil {
			w = os.Stdout
		}
		res.Print(w)
	}
	return res.Pass, nil
}

// Compare evaluates the analytic and numeric gradients of every free
// parameter of m. The parameters of m are restored before Compare returns.
func Compare(m Model, s Settings) (*Result, error) {
	if s.Step == 0 {
		s.Step = DefaultSettings().Step
	}
	if s.Tolerance == 0 {
		s.Tolerance = DefaultSettings().Tolerance
	}
	x0 := m.Parameters(nil)
	free := freeIndices(m, len(x0))

	if err := m.SetParameters(x0); err != nil {
		return nil, err
	}
	if len(free) == 0 {
		return &Result{Pass: true}, nil
	}
	analytic := m.Gradient(nil)

	// Perturb only the free entries; fixed entries stay at x0.
	x := make([]float64, len(x0))
	var ferr error
	f := func(xf []float64) float64 {
		if ferr != nil {
			return math.NaN()
		}
		copy(x, x0)
		for i, idx := range free {
			x[idx] = xf[i]
		}
		if err := m.SetParameters(x); err != nil {
			ferr = err
			return math.NaN()
		}
		v, err := m.Objective()
		if err != nil {
			ferr = err
			return math.NaN()
		}
		return v
	}
	xf := make([]float64, len(free))
	for i, idx := range free {
		xf[i] = x0[idx]
	}
	numeric := fd.Gradient(nil, f, xf, &fd.Settings{
		Formula: fd.Central,
		Step:    s.Step,
	})
	if err := m.SetParameters(x0); err != nil && ferr == nil {
		ferr = err
	}
	if ferr != nil {
		return nil, ferr
	}

	var names []string
	if n, ok := m.(Namer); ok {
		names = n.ParameterNames()
	}
	res := &Result{Pass: true, Rows: make([]Row, len(free))}
	for i, idx := range free {
		row := Row{
			Name:     fmt.Sprintf("[%d]", idx),
			Analytic: analytic[idx],
			Numeric:  numeric[i],
		}
		if names != nil {
			row.Name = names[idx]
		}
		row.Ratio = row.Numeric / row.Analytic
		row.Difference = math.Abs(row.Numeric - row.Analytic)
		row.Pass = math.Abs(1-row.Ratio) < s.Tolerance || row.Difference < s.Tolerance
		if !row.Pass {
			res.Pass = false
		}
		res.Rows[i] = row
	}
	return res, nil
}

// Print writes the comparison table to w.
func (r *Result) Print(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tRatio\tDifference\tAnalytical\tNumerical\tPass")
	for _, row := range r.Rows {
		fmt.Fprintf(tw, "%s\t%.6f\t%.6e\t%.6e\t%.6e\t%v\n", row.Name, row.Ratio, row.Difference, row.Analytic, row.Numeric, row.Pass)
	}
	tw.Flush()
}

func freeIndices(m Model, n int) []int {
	var fixed []bool
	if fx, ok := m.(Fixer); ok {
		fixed = fx.Fixed()
	}
	free := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if fixed != nil && fixed[i] {
			continue
		}
		free = append(free, i)
	}
	return free
}
