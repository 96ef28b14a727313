package training

import "fmt"

// AverageMeter accumulates a sample-weighted running average. Updates
// carry the number of samples they represent, so batches of different
// sizes contribute proportionally instead of equally.
//
// A meter is good for one epoch. RunEpoch creates fresh meters every
// call; reusing one across epochs corrupts the average.
type AverageMeter struct {
	val   float64
	sum   float64
	count int
}

// NewAverageMeter creates an empty meter
func NewAverageMeter() *AverageMeter {
	return &AverageMeter{}
}

// Update records value weighted by n samples
func (m *AverageMeter) Update(value float64, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: update weight must be positive, got %d", ErrInvalidArgument, n)
	}
	m.val = value
	m.sum += value * float64(n)
	m.count += n
	return nil
}

// Average returns the weighted mean of all recorded values
func (m *AverageMeter) Average() (float64, error) {
	if m.count == 0 {
		return 0, fmt.Errorf("%w: average requested before any update", ErrNoSamples)
	}
	return m.sum / float64(m.count), nil
}

// Val returns the most recently recorded value
func (m *AverageMeter) Val() float64 {
	return m.val
}

// Count returns the total sample weight recorded so far
func (m *AverageMeter) Count() int {
	return m.count
}
