package sweeper

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

type options struct {
	Logger    *log.Logger
	Cron      *cron.Cron
	Location  *time.Location
	Interval  time.Duration
	Threshold time.Duration
	BatchSize int
	Now       func() time.Time
}

// Option applies configuration to the sweeper service.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:    log.Default(),
		Location:  time.UTC,
		Interval:  5 * time.Minute,
		Threshold: 2 * time.Hour,
		BatchSize: 50,
		Now:       time.Now,
	}
}

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithLocation sets the sweeper timezone location.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.Location = loc
	}
}

// WithInterval sets how often a sweep runs.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.Interval = d
	}
}

// WithInactivityThreshold sets how long a ticket may stay silent before it
// is closed.
func WithInactivityThreshold(d time.Duration) Option {
	return func(o *options) {
		o.Threshold = d
	}
}

// WithBatchSize caps how many tickets one sweep will close.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.BatchSize = n
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.Now = now
	}
}
