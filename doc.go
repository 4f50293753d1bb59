// Package krl (Keyed Rate Limiter) provides rate limiting with pluggable
// counting algorithms and storage backends. Callers ask whether the next
// operation for a key fits a configured quota; krl answers with a full
// admission decision.
//
// # Key Concepts
//
//   - [Config] describes a limiter: the quota window, the quota itself
//     (static, or resolved per call from the request context), an
//     [Algorithm], and a [store.Store].
//   - [Algorithm] is one of four counting strategies: fixed window,
//     sliding window, token bucket, or leaky bucket.
//   - [store.Store] is the state backend. An in-memory store is used by
//     default; SQLite and Redis backed stores are available for
//     persistence and for sharing counts across processes.
//   - [Decision] reports the outcome: allowed or not, the usage so far,
//     the remaining quota, when the pressure eases, and how long to wait
//     after a denial.
//
// # Quick Start
//
//	limiter, err := krl.New(krl.Config{
//		Window:    time.Minute,
//		Max:       100,
//		Algorithm: krl.SlidingWindow,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer limiter.Close()
//
//	d, err := limiter.Check(ctx, "user:42:/login")
//	if err != nil {
//		// Only key problems land here.
//	}
//	if !d.Allowed {
//		// Tell the caller to come back after d.RetryAfter.
//	}
//
// # Failure Policy
//
// A limiter that cannot reach its store fails open: Check logs the fault,
// attaches it to [Decision].Err, and allows the observation. Configuration
// problems, by contrast, fail fast in [New].
//
// See the [Limiter] documentation for the full API.
package krl
