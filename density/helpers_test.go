package density

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/RyanBlaney/sonido-density/spectrumfile"
)

// memoryStore keeps the last record saved per stage.
type memoryStore struct {
	mu      sync.Mutex
	records map[int]*spectrumfile.Record
	saves   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[int]*spectrumfile.Record{}}
}

func (m *memoryStore) Save(rec *spectrumfile.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Stage] = rec
	m.saves++
	return nil
}

type fakeController struct {
	skipSettle bool
	status     []string
}

func (f *fakeController) RequestedStopSoft() bool   { return false }
func (f *fakeController) RequestedStopHard() bool   { return false }
func (f *fakeController) RequestedSkipSettle() bool { return f.skipSettle }
func (f *fakeController) UpdateStatus(text string)  { f.status = append(f.status, text) }

// frozenClock never advances unless told to.
type frozenClock struct {
	now time.Time
}

func (c *frozenClock) Now() time.Time { return c.now }

// sineNoise returns n samples of amp*sin(2πf t) plus gaussian noise of
// standard deviation sigma.
func sineNoise(n int, dtS, amp, freq, sigma float64, seed uint64) []float64 {
	noise := distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewPCG(seed, seed+1)}
	out := make([]float64, n)
	for i := range out {
		out[i] = amp*math.Sin(2*math.Pi*freq*float64(i)*dtS) + noise.Rand()
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// dtForPush returns a sample interval whose push size is exactly push.
func dtForPush(push int) float64 {
	return PushDurationS / float64(push)
}
