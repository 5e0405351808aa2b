package cli

import (
	"fmt"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

// collection is the part of every collection kind the commands share.
type collection interface {
	fastcollection.StatsSource
	Len() (int, error)
	Clear() error
	RemoveExpired() (int, error)
	Flush() error
	Close() error
	Kind() fastcollection.Kind
	Path() string
}

// handle is an open collection of any kind. Exactly one of the typed
// fields is set.
type handle struct {
	collection

	list  *fastcollection.List
	set   *fastcollection.Set
	m     *fastcollection.Map
	queue *fastcollection.Queue
	stack *fastcollection.Stack
}

func openHandle(kind fastcollection.Kind, opts fastcollection.Options) (*handle, error) {
	var (
		h   handle
		err error
	)

	switch kind {
	case fastcollection.KindList:
		h.list, err = fastcollection.OpenList(opts)
		h.collection = h.list
	case fastcollection.KindSet:
		h.set, err = fastcollection.OpenSet(opts)
		h.collection = h.set
	case fastcollection.KindMap:
		h.m, err = fastcollection.OpenMap(opts)
		h.collection = h.m
	case fastcollection.KindQueue:
		h.queue, err = fastcollection.OpenQueue(opts)
		h.collection = h.queue
	case fastcollection.KindStack:
		h.stack, err = fastcollection.OpenStack(opts)
		h.collection = h.stack
	default:
		return nil, fmt.Errorf("%w: kind %d", fastcollection.ErrInvalidInput, kind)
	}

	if err != nil {
		return nil, err
	}

	return &h, nil
}

// openExisting opens the file at path with the kind its header names.
func openExisting(opts fastcollection.Options) (*handle, error) {
	info, err := fastcollection.Inspect(opts.Path)
	if err != nil {
		return nil, err
	}

	opts.BucketCount = 0

	return openHandle(info.Kind, opts)
}

// walk visits every live element, which follows every link in the file.
func (h *handle) walk() (int, error) {
	n := 0
	count := func([]byte) bool { n++; return true }

	var err error

	switch {
	case h.list != nil:
		err = h.list.ForEach(count)
	case h.set != nil:
		err = h.set.ForEach(count)
	case h.m != nil:
		err = h.m.ForEach(func(_, _ []byte) bool { n++; return true })
	case h.queue != nil:
		err = h.queue.ForEach(count)
	case h.stack != nil:
		err = h.stack.ForEach(count)
	}

	return n, err
}
