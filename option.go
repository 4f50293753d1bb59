package krl

import "go.uber.org/zap"

// Option configures a Limiter beyond its Config.
type Option func(*Limiter)

// WithLogger sets the logger the limiter uses when it fails open. The
// default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// WithOnLimitReached sets a callback that fires whenever a Check is denied.
// It runs synchronously on the Check path, so it should return quickly.
func WithOnLimitReached(fn func(key string, d Decision)) Option {
	return func(l *Limiter) {
		l.onLimitReached = fn
	}
}
