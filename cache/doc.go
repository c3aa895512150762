// Package cache provides the key/blob stores that back replay mode.
//
// A Store maps a request fingerprint to the body of the response that was
// returned for it. Stores never evict: one store is meant to live for one
// scrape session and be rebuilt (Open with overwrite) when replay state
// should be reset.
//
//   - SQLiteStore: a single local file (the default, see Path). Every Put is
//     committed before it returns so a crashed run can still be replayed.
//   - RedisStore: the same contract over Redis, for independent pipeline
//     instances that want to share replay state.
//
// The SQLite store is not safe for concurrent writers from several
// processes; run independent pipelines against independent files or use
// RedisStore.
package cache
