package olsrv2

// LocalAnsn tracks this node's own 16-bit ANSN counter, bumped whenever
// locally-originated TC content changes (spec.md §4.8).
type LocalAnsn struct {
	value uint16
}

// Bump increments the counter and returns the new value, for inclusion in
// the next emitted TC.
func (a *LocalAnsn) Bump() uint16 {
	a.value++
	return a.value
}

// Value returns the current counter without incrementing it.
func (a *LocalAnsn) Value() uint16 { return a.value }

// ForceIncrement exists for probe sequences that must guarantee a fresh,
// strictly-newer ANSN regardless of coalescing (spec.md §4.8).
func (a *LocalAnsn) ForceIncrement() uint16 { return a.Bump() }
