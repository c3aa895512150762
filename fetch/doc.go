// Package fetch performs the remote calls made by pipeline stages.
//
// A Fetcher is one HTTP session (cookie jar, keep-alive connections, an
// optional rate limit). With a cache.Store attached it runs in replay mode:
// every request is fingerprinted from (namespace, method, url, body) and
// served from the store when present. On a miss the live call is made and
// the body is stored only if the call succeeded, so a transient failure
// never poisons a later replay.
//
// The Fetcher never retries on its own. Sources whose server rate-limits
// by answering non-2xx can opt into GetThrottled, which sleeps a linearly
// growing backoff between attempts and gives up with ThrottleExceededError
// after Backoff.MaxAttempts.
//
// Large payloads can be streamed straight to disk with GetToFile; the
// returned TempFile must be closed by the caller, which also deletes it.
package fetch
