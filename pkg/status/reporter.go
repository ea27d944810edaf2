package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the state of one action log entry
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is one line of the user-visible action log
type Entry struct {
	ID        string         `json:"id"`
	Message   string         `json:"message"`
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Link      string         `json:"link,omitempty"`
	Duration  *time.Duration `json:"duration,omitempty"`

	startTime time.Time
}

// Option customises an appended or updated entry
type Option func(*entryOptions)

type entryOptions struct {
	link        string
	carriedFrom string
}

// WithLink attaches an explorer or recovery link to the entry
func WithLink(link string) Option {
	return func(o *entryOptions) {
		o.link = link
	}
}

// CarriedFrom measures the entry's duration from the start of an earlier entry
func CarriedFrom(id string) Option {
	return func(o *entryOptions) {
		o.carriedFrom = id
	}
}

// Reporter is an append-mostly action log safe for concurrent readers
type Reporter struct {
	mu       sync.RWMutex
	entries  []Entry
	now      func() time.Time
	onChange func(Entry)
}

// NewReporter creates an empty reporter
func NewReporter() *Reporter {
	return &Reporter{now: time.Now}
}

// SetClock overrides the time source
func (r *Reporter) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// OnChange registers a hook called with every appended or updated entry.
// The hook runs outside the reporter lock.
func (r *Reporter) OnChange(fn func(Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Append adds a new entry and returns its id
func (r *Reporter) Append(message string, status Status, opts ...Option) string {
	o := collect(opts)

	r.mu.Lock()
	now := r.now()
	entry := Entry{
		ID:        uuid.New().String(),
		Message:   message,
		Status:    status,
		Timestamp: now,
		Link:      o.link,
		startTime: r.startFor(o.carriedFrom, now),
	}
	if status != StatusPending {
		entry.Duration = durationPtr(now.Sub(entry.startTime))
	}
	r.entries = append(r.entries, entry)
	hook := r.onChange
	r.mu.Unlock()

	if hook != nil {
		hook(entry)
	}
	return entry.ID
}

// UpdateLast replaces the message and status of the most recent entry in place.
// With no entries it behaves like Append.
func (r *Reporter) UpdateLast(message string, status Status, opts ...Option) {
	o := collect(opts)

	r.mu.Lock()
	if len(r.entries) == 0 {
		r.mu.Unlock()
		r.Append(message, status, opts...)
		return
	}

	now := r.now()
	last := &r.entries[len(r.entries)-1]
	last.Message = message
	last.Status = status
	last.Timestamp = now
	if o.link != "" {
		last.Link = o.link
	}
	if o.carriedFrom != "" {
		last.startTime = r.startFor(o.carriedFrom, last.startTime)
	}
	if status != StatusPending {
		last.Duration = durationPtr(now.Sub(last.startTime))
	} else {
		last.Duration = nil
	}
	entry := *last
	hook := r.onChange
	r.mu.Unlock()

	if hook != nil {
		hook(entry)
	}
}

// Entries returns a copy of the log
func (r *Reporter) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Last returns the most recent entry
func (r *Reporter) Last() (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return Entry{}, false
	}
	return r.entries[len(r.entries)-1], true
}

// startFor must be called with the lock held
func (r *Reporter) startFor(id string, fallback time.Time) time.Time {
	if id == "" {
		return fallback
	}
	for i := range r.entries {
		if r.entries[i].ID == id {
			return r.entries[i].startTime
		}
	}
	return fallback
}

func collect(opts []Option) entryOptions {
	var o entryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
