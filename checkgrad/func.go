package checkgrad

// Func adapts a pair of closures to Model. F evaluates the objective at x and
// DF writes its gradient at x into grad.
type Func struct {
	F  func(x []float64) (float64, error)
	DF func(x, grad []float64) error

	x    []float64
	grad []float64
}

// NewFunc returns a Func starting at a copy of x0.
func NewFunc(f func([]float64) (float64, error), df func(x, grad []float64) error, x0 []float64) *Func {
	x := make([]float64, len(x0))
	copy(x, x0)
	return &Func{
		F:    f,
		DF:   df,
		x:    x,
		grad: make([]float64, len(x0)),
	}
}

func (f *Func) NumParameters() int { return len(f.x) }

func (f *Func) Parameters(dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(f.x))
	}
	if len(dst) != len(f.x) {
		panic("checkgrad: parameter length mismatch")
	}
	copy(dst, f.x)
	return dst
}

func (f *Func) SetParameters(x []float64) error {
	if len(x) != len(f.x) {
		panic("checkgrad: parameter length mismatch")
	}
	copy(f.x, x)
	return f.DF(f.x, f.grad)
}

func (f *Func) Objective() (float64, error) {
	return f.F(f.x)
}

func (f *Func) Gradient(dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(f.grad))
	}
	copy(dst, f.grad)
	return dst
}
