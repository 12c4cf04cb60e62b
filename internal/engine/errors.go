package engine

import (
	"errors"

	"github.com/nao1215/sprite/internal/spider"
)

var (
	// ErrInvalidTransition is the panic value for lifecycle misuse, such
	// as pausing an engine that is not running.
	ErrInvalidTransition = errors.New("invalid engine state transition")

	// ErrNoStartRequests is returned by Run when the spider produced no
	// request and nothing was restored from a snapshot.
	ErrNoStartRequests = errors.New("spider produced no start requests")

	// ErrUnknownCallback is logged when a request names a callback the
	// spider does not have.
	ErrUnknownCallback = spider.ErrUnknownCallback
)
