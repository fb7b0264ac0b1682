// Package queue provides the debounced job queue that decouples checkpoint
// writes from the request path.
//
// Jobs are held in memory only. Enqueueing under a debounce key replaces any
// pending job with that key, so only the most recent payload survives to the
// next drain. A fixed-interval drain processes jobs sequentially under a
// single-flight guard; a job whose handler fails stays queued and is retried
// on subsequent drains until its retry budget is exhausted.
package queue
