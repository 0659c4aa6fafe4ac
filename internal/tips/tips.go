package tips

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is how long each tip stays on screen.
const DefaultInterval = 6 * time.Second

// Default is the Home page rotation.
var Default = []string{
	"Fuel Your Body Right: Eat colorful fruits and veggies.",
	"Keep Moving: Exercise daily for 30 minutes!",
	"Stay Hydrated: Drink 2-3 liters of water every day.",
}

// Rotator cycles through a fixed list of tips.
type Rotator struct {
	mu    sync.Mutex
	tips  []string
	index int
}

// NewRotator returns a Rotator positioned on the first tip. An empty list
// falls back to Default.
func NewRotator(tips []string) *Rotator {
	if len(tips) == 0 {
		tips = Default
	}
	return &Rotator{tips: append([]string(nil), tips...)}
}

// Len returns the number of tips.
func (r *Rotator) Len() int {
	return len(r.tips)
}

// Current returns the displayed tip and its index.
func (r *Rotator) Current() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index, r.tips[r.index]
}

// Advance moves to the next tip, wrapping after the last one.
func (r *Rotator) Advance() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = (r.index + 1) % len(r.tips)
	return r.index, r.tips[r.index]
}

// Run calls fn with the current tip, then with the next one every interval,
// until ctx is done or fn returns an error. It returns ctx.Err() or fn's error.
func (r *Rotator) Run(ctx context.Context, interval time.Duration, fn func(index int, tip string) error) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(r.Current()); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(r.Advance()); err != nil {
				return err
			}
		}
	}
}
