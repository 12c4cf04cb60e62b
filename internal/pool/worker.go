package pool

import (
	"sync/atomic"
	"time"
)

// worker owns one inbox. pending counts queued plus running tasks.
type worker struct {
	id         int
	inbox      chan *Handle
	pending    atomic.Int32
	lastActive atomic.Int64
}

func newWorker(id, inboxSize int) *worker {
	w := &worker{
		id:    id,
		inbox: make(chan *Handle, inboxSize),
	}
	w.touch()
	return w
}

func (w *worker) touch() {
	w.lastActive.Store(time.Now().UnixNano())
}

func (w *worker) lastActiveTime() time.Time {
	return time.Unix(0, w.lastActive.Load())
}
