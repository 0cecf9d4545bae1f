package param

import (
	"fmt"
	"iter"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Set is an insertion-ordered association of keys to parameters. The set
// references parameters; it does not own them.
type Set struct {
	keys   []string
	params []*Parameter
	index  map[string]int
}

func NewSet() *Set {
	return &Set{index: make(map[string]int)}
}

// Add appends p under key. A duplicate key leaves the set unchanged.
func (s *Set) Add(key string, p *Parameter) error {
	if p == nil {
		return fmt.Errorf("parameter %q is nil", key)
	}
	if _, ok := s.index[key]; ok {
		return fmt.Errorf("%w: parameter %q", ErrDuplicateName, key)
	}
	s.index[key] = len(s.keys)
	s.keys = append(s.keys, key)
	s.params = append(s.params, p)
	return nil
}

func (s *Set) Len() int { return len(s.keys) }

func (s *Set) Key(i int) string { return s.keys[i] }

func (s *Set) At(i int) *Parameter { return s.params[i] }

// Keys returns a copy of the keys in namespace order.
func (s *Set) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s *Set) Get(key string) (*Parameter, bool) {
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return s.params[i], true
}

func (s *Set) IndexOf(key string) (int, bool) {
	i, ok := s.index[key]
	return i, ok
}

func (s *Set) All() iter.Seq2[string, *Parameter] {
	return func(yield func(string, *Parameter) bool) {
		for i, k := range s.keys {
			if !yield(k, s.params[i]) {
				return
			}
		}
	}
}

// Values returns the current values in namespace order.
func (s *Set) Values() []float64 {
	out := make([]float64, len(s.params))
	for i, p := range s.params {
		out[i] = p.value
	}
	return out
}

// Assign writes values[i] to the i-th parameter. Every value is checked
// before any is written.
func (s *Set) Assign(values []float64) error {
	if len(values) != len(s.params) {
		return fmt.Errorf("%w: got %d values for %d parameters", ErrShapeMismatch, len(values), len(s.params))
	}
	for i, p := range s.params {
		v := values[i]
		if math.IsNaN(v) || v < p.lower || v > p.upper {
			return fmt.Errorf("%w: %s=%g not in [%g, %g]", ErrOutOfBounds, s.keys[i], v, p.lower, p.upper)
		}
	}
	for i, p := range s.params {
		p.value = values[i]
	}
	return nil
}

// LogPrior sums log densities of values under the parameters' priors,
// returning -Inf as soon as one density is zero.
func (s *Set) LogPrior(values []float64) float64 {
	if len(values) != len(s.params) {
		return math.Inf(-1)
	}
	total := 0.0
	for i, p := range s.params {
		d := p.prior.Density(values[i])
		if d == 0 || math.IsNaN(d) {
			return math.Inf(-1)
		}
		total += math.Log(d)
	}
	return total
}

// CheckTransforms reports the first parameter whose prior cannot map the
// unit cube.
func (s *Set) CheckTransforms() error {
	for i, p := range s.params {
		if _, ok := p.prior.(Transformer); !ok {
			return fmt.Errorf("%w: %s (%T)", ErrUnsupportedPrior, s.keys[i], p.prior)
		}
	}
	return nil
}

// Transform maps cube in place from unit-cube coordinates to parameter
// values, positionally over the namespace.
func (s *Set) Transform(cube []float64) error {
	if len(cube) != len(s.params) {
		return fmt.Errorf("%w: got %d coordinates for %d parameters", ErrShapeMismatch, len(cube), len(s.params))
	}
	for i, p := range s.params {
		v, err := p.FromUnitCube(cube[i])
		if err != nil {
			return err
		}
		cube[i] = v
	}
	return nil
}

// Fingerprint hashes the ordered keys. Two namespaces with the same keys in
// a different order have different fingerprints.
func (s *Set) Fingerprint() uint64 {
	d := xxhash.New()
	for _, k := range s.keys {
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
