package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner redraws one status line while a dispatch is in flight.
// Safe for concurrent use.
type Spinner struct {
	out      io.Writer
	interval time.Duration

	mu      sync.Mutex
	frame   int
	message string
	width   int
	stop    chan struct{}
	done    chan struct{}
}

// NewSpinner creates a spinner writing to out.
func NewSpinner(out io.Writer) *Spinner {
	return &Spinner{out: out, interval: 100 * time.Millisecond}
}

// Start shows message and animates until Stop. Starting twice is a no-op.
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.message = message
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.render()
			}
		}
	}()
}

// Update replaces the message.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
	s.render()
}

// Println prints a full line above the spinner.
func (s *Spinner) Println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	fmt.Fprintln(s.out, line)
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}

	close(stop)
	<-done

	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
}

func (s *Spinner) render() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	line := spinnerFrames[s.frame] + " " + s.message
	s.frame = (s.frame + 1) % len(spinnerFrames)

	// pad over leftovers of a longer previous line
	pad := max(s.width-len(line), 0)
	fmt.Fprintf(s.out, "\r%s%*s", line, pad, "")
	s.width = len(line)
}

func (s *Spinner) clearLocked() {
	if s.width == 0 {
		return
	}
	fmt.Fprintf(s.out, "\r%*s\r", s.width, "")
	s.width = 0
}
