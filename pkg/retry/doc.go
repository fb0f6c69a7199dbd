// Package retry provides exponential backoff retry logic for transient
// failures: bus reconnects, resource initialization, component startup.
//
// Use Do with a preset, or DoWithResult when the operation yields a value:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return conn.Connect()
//	})
//
// Presets: DefaultConfig (3 attempts, 100ms-5s), Quick (10 attempts,
// 50ms-1s), Persistent (30 attempts, 200ms-10s). Wrap an error with
// NonRetryable to stop retrying immediately. All operations honor context
// cancellation, both between attempts and during backoff sleeps.
package retry
