package model

import "context"

// ResultKind tells which variant a Result holds.
type ResultKind int

const (
	// KindNone is the empty result: the callback produced nothing.
	KindNone ResultKind = iota
	// KindRequest holds a follow-up Request.
	KindRequest
	// KindItem holds an extracted Item.
	KindItem
	// KindSequence holds a lazy sequence of nested results.
	KindSequence
	// KindSuspend holds an operation that must be awaited to get the
	// actual result.
	KindSuspend
	// KindError holds a failure raised by the callback.
	KindError
)

// String returns the variant name.
func (k ResultKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRequest:
		return "request"
	case KindItem:
		return "item"
	case KindSequence:
		return "sequence"
	case KindSuspend:
		return "suspend"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Seq is a lazy sequence of results. It follows the iter.Seq contract:
// yield returns false when the consumer wants to stop early.
type Seq func(yield func(Result) bool)

// SuspendFunc is a blocking operation producing a Result.
type SuspendFunc func(ctx context.Context) (Result, error)

// Result is what a spider callback returns.
//
// It is a tagged union over nothing, a Request, an Item, a lazy sequence
// of further Results (which may nest), a suspending operation, or an error.
// The zero value is KindNone.
type Result struct {
	kind    ResultKind
	request *Request
	item    Item
	seq     Seq
	suspend SuspendFunc
	err     error
}

// None returns the empty result.
func None() Result {
	return Result{}
}

// RequestResult wraps a follow-up request.
func RequestResult(r *Request) Result {
	if r == nil {
		return Result{}
	}
	return Result{kind: KindRequest, request: r}
}

// ItemResult wraps an item.
func ItemResult(i Item) Result {
	if i == nil {
		return Result{}
	}
	return Result{kind: KindItem, item: i}
}

// Sequence wraps a lazy sequence.
func Sequence(seq Seq) Result {
	if seq == nil {
		return Result{}
	}
	return Result{kind: KindSequence, seq: seq}
}

// Suspend wraps a suspending operation.
func Suspend(fn SuspendFunc) Result {
	if fn == nil {
		return Result{}
	}
	return Result{kind: KindSuspend, suspend: fn}
}

// ErrorResult wraps a callback failure.
func ErrorResult(err error) Result {
	if err == nil {
		return Result{}
	}
	return Result{kind: KindError, err: err}
}

// Results is a sequence over a fixed list.
func Results(rs ...Result) Result {
	return Sequence(func(yield func(Result) bool) {
		for _, r := range rs {
			if !yield(r) {
				return
			}
		}
	})
}

// Kind returns the variant.
func (r Result) Kind() ResultKind {
	return r.kind
}

// Request returns the wrapped request, or nil.
func (r Result) Request() *Request {
	return r.request
}

// Item returns the wrapped item, or nil.
func (r Result) Item() Item {
	return r.item
}

// Seq returns the wrapped sequence, or nil.
func (r Result) Seq() Seq {
	return r.seq
}

// Await runs the suspending operation. It returns the empty result for
// every other variant.
func (r Result) Await(ctx context.Context) (Result, error) {
	if r.kind != KindSuspend {
		return Result{}, nil
	}
	return r.suspend(ctx)
}

// Err returns the wrapped error, or nil.
func (r Result) Err() error {
	return r.err
}
