package scheduler

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// filterGrowth multiplies the capacity of each new layer.
	filterGrowth = 2
	// filterTightening multiplies the error rate of each new layer so the
	// compound false-positive rate stays bounded.
	filterTightening = 0.9

	filterMagic   = "SPRF"
	filterVersion = uint32(1)
)

// errBadFilterFile is returned when a persisted filter cannot be decoded.
var errBadFilterFile = errors.New("invalid filter file")

// Filter is a scalable bloom filter: a stack of bloom filters where a new,
// larger and stricter layer is added whenever the newest one is full.
// It never reports a false negative.
type Filter struct {
	mu        sync.Mutex
	capacity  uint
	errorRate float64
	layers    []*filterLayer
}

type filterLayer struct {
	bf       *bloom.BloomFilter
	capacity uint
	count    uint
	rate     float64
}

// NewFilter creates a filter whose first layer holds capacity entries at
// errorRate false positives.
func NewFilter(capacity int, errorRate float64) *Filter {
	if capacity <= 0 {
		capacity = 1
	}
	if errorRate <= 0 || errorRate >= 1 {
		errorRate = 0.001
	}
	f := &Filter{capacity: uint(capacity), errorRate: errorRate}
	f.layers = []*filterLayer{newLayer(f.capacity, errorRate)}
	return f
}

func newLayer(capacity uint, rate float64) *filterLayer {
	return &filterLayer{
		bf:       bloom.NewWithEstimates(capacity, rate),
		capacity: capacity,
		rate:     rate,
	}
}

// Test reports whether key may have been added.
func (f *Filter) Test(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.testLocked(key)
}

// Add records key.
func (f *Filter) Add(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addLocked(key)
}

// TestAndAdd records key and reports whether it may have been present before.
func (f *Filter) TestAndAdd(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.testLocked(key) {
		return true
	}
	f.addLocked(key)
	return false
}

// Len returns the number of keys added.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n uint
	for _, l := range f.layers {
		n += l.count
	}
	return int(n)
}

// Layers returns the number of stacked bloom filters.
func (f *Filter) Layers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.layers)
}

func (f *Filter) testLocked(key string) bool {
	for i := len(f.layers) - 1; i >= 0; i-- {
		if f.layers[i].bf.TestString(key) {
			return true
		}
	}
	return false
}

func (f *Filter) addLocked(key string) {
	top := f.layers[len(f.layers)-1]
	if top.count >= top.capacity {
		top = newLayer(top.capacity*filterGrowth, top.rate*filterTightening)
		f.layers = append(f.layers, top)
	}
	top.bf.AddString(key)
	top.count++
}

// WriteTo serializes the filter.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cw := &countingWriter{w: w}
	if _, err := io.WriteString(cw, filterMagic); err != nil {
		return cw.n, err
	}
	header := []uint64{uint64(filterVersion), uint64(f.capacity), math.Float64bits(f.errorRate), uint64(len(f.layers))}
	if err := binary.Write(cw, binary.BigEndian, header); err != nil {
		return cw.n, err
	}
	for _, l := range f.layers {
		meta := []uint64{uint64(l.capacity), uint64(l.count), math.Float64bits(l.rate)}
		if err := binary.Write(cw, binary.BigEndian, meta); err != nil {
			return cw.n, err
		}
		if _, err := l.bf.WriteTo(cw); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// ReadFilter decodes a filter written by WriteTo.
func ReadFilter(r io.Reader) (*Filter, error) {
	magic := make([]byte, len(filterMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadFilterFile, err)
	}
	if string(magic) != filterMagic {
		return nil, errBadFilterFile
	}

	header := make([]uint64, 4)
	if err := binary.Read(r, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadFilterFile, err)
	}
	if uint32(header[0]) != filterVersion || header[3] == 0 {
		return nil, errBadFilterFile
	}

	f := &Filter{
		capacity:  uint(header[1]),
		errorRate: math.Float64frombits(header[2]),
	}
	for i := uint64(0); i < header[3]; i++ {
		meta := make([]uint64, 3)
		if err := binary.Read(r, binary.BigEndian, meta); err != nil {
			return nil, fmt.Errorf("%w: layer %d: %w", errBadFilterFile, i, err)
		}
		bf := &bloom.BloomFilter{}
		if _, err := bf.ReadFrom(r); err != nil {
			return nil, fmt.Errorf("%w: layer %d: %w", errBadFilterFile, i, err)
		}
		f.layers = append(f.layers, &filterLayer{
			bf:       bf,
			capacity: uint(meta[0]),
			count:    uint(meta[1]),
			rate:     math.Float64frombits(meta[2]),
		})
	}
	return f, nil
}

// saveFilter writes f to path atomically.
func saveFilter(path string, f *Filter) error {
	return writeFileAtomic(path, func(w *bufio.Writer) error {
		_, err := f.WriteTo(w)
		return err
	})
}

func loadFilter(path string) (*Filter, error) {
	file, err := os.Open(path) //nolint:gosec // path is built from the job directory
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadFilter(bufio.NewReader(file))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
