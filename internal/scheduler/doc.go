// Package scheduler delivers pending requests in priority order, at most
// once per deduplication identity.
//
// MemoryScheduler keeps the queue in process and can snapshot unfinished
// requests to the job directory on Close and reload them on Start.
// RedisScheduler keeps the queue and the seen set in Redis, so a crawl
// survives restarts without a snapshot.
//
// Slot counts requests that have been taken from a scheduler but are
// still being processed, and lets shutdown wait until that count drains.
package scheduler
