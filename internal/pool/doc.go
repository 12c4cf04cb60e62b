// Package pool runs many short-lived tasks on a bounded set of workers.
//
// Each worker owns one buffered inbox and drains it sequentially. Submit
// never blocks: it hands the task to an idle worker, starts a new worker
// while under the cap, or queues it behind the worker with the shortest
// backlog. A maintenance loop retires workers that stay idle longer than
// the idle timeout, so the pool shrinks back to zero during lulls.
//
// A task that returns an error or panics is logged and resolves its
// Handle; the worker keeps draining its inbox.
package pool
