package lesson

const (
	// InitialCharge is the meter value of a fresh or reset lesson.
	InitialCharge = 10
	// MaxCharge caps the meter.
	MaxCharge = 100
)

// Charge is the brain charge meter, always within [0, MaxCharge].
type Charge int

// NewCharge returns a meter at InitialCharge.
func NewCharge() Charge {
	return Charge(InitialCharge)
}

// Add returns the meter after crediting delta, clamped to [0, MaxCharge].
func (c Charge) Add(delta int) Charge {
	return clamp(int(c) + delta)
}

// Int returns the meter value.
func (c Charge) Int() int {
	return int(c)
}

func clamp(v int) Charge {
	if v < 0 {
		return 0
	}
	if v > MaxCharge {
		return MaxCharge
	}
	return Charge(v)
}
