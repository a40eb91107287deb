// Package resilience provides the concurrency and failure-handling primitives
// used by target sources and interceptors: a slot semaphore (Bulkhead),
// retry with backoff, a circuit breaker and a token-bucket rate limiter.
//
// Pooled target sources bound their checkouts with a Bulkhead:
//
//	bh := resilience.NewBulkhead(resilience.BulkheadConfig{Name: "db", MaxConcurrent: 4, Wait: resilience.WaitBounded, MaxWait: time.Second})
//	if err := bh.Acquire(ctx); err != nil {
//	    return err
//	}
//	defer bh.Release()
//
// Interceptors wrap invocations with Retry, CircuitBreaker and RateLimiter.
package resilience
