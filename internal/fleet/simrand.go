package fleet

// pcg32 is a small, fast, deterministic PRNG used by the Simulator to
// jitter telemetry without pulling in math/rand's global lock or
// depending on wall-clock entropy, so simulator-driven tests are
// reproducible given the same seed.
type pcg32 struct {
	state     uint64
	increment uint64
}

const (
	pcg32DefaultState     = 0x853c49e6748fea9b
	pcg32DefaultIncrement = 0xda3e39cb94b95bdb
	pcg32Multiplier       = 0x5851f42d4c957f2d
)

func newPCG32(seed uint64) *pcg32 {
	p := &pcg32{state: pcg32DefaultState, increment: pcg32DefaultIncrement}
	p.seed(seed, pcg32DefaultIncrement)
	return p
}

func (p *pcg32) seed(state, sequence uint64) {
	p.increment = (sequence << 1) | 1
	p.state = (state+p.increment)*pcg32Multiplier + p.increment
}

func (p *pcg32) random() uint32 {
	old := p.state
	p.state = old*pcg32Multiplier + p.increment

	xorShifted := uint32(((old >> 18) ^ old) >> 27)
	rot := uint32(old >> 59)
	return (xorShifted >> rot) | (xorShifted << ((-rot) & 31))
}

// signedUnit returns a pseudo-random value in [-1, 1], used for jitter.
func (p *pcg32) signedUnit() float64 {
	v := float64(p.random()) / float64(1<<32-1)
	return 2*v - 1
}
