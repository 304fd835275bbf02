// Copyright 2026 The Kernsim Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package waiter provides the implementation of a wait queue, where waiters can
// be enqueued to be notified when an event of interest happens.
//
// Becoming readable and a child exiting are examples of events. Kernel code
// blocks the current process with a pattern similar to this:
//
//	func (o *object) blockingRead(...) error {
//		for !o.ready() {
//			// Registers an entry whose callback readies the process and
//			// gives up the CPU until it is notified.
//			k.Block(&o.queue, o.ready)
//		}
//		return o.nonBlockingRead(...)
//	}
//
// The event producer, typically an interrupt handler, notifies waiters:
//
//	func (o *object) handleIRQ() {
//		[...]
//		o.queue.Notify(waiter.EventIn)
//	}
package waiter

import (
	"github.com/jsnal/os-sub000/pkg/ilist"
	"github.com/jsnal/os-sub000/pkg/sync"
)

// EventMask represents events waiters can wait on.
type EventMask uint16

// Events that waiters can wait on. The first group has the same meaning as in
// the poll() syscall.
const (
	EventIn  EventMask = 0x01 // syscall.EPOLLIN
	EventOut EventMask = 0x04 // syscall.EPOLLOUT
	EventHUp EventMask = 0x10 // syscall.EPOLLHUP

	// EventChild is raised when a child process has exited and its status
	// can be collected.
	EventChild EventMask = 0x100
)

// EntryCallback provides a notify callback.
type EntryCallback interface {
	// Callback is the function to be called when the waiter entry is
	// notified. It is responsible for doing whatever is needed to wake up
	// the waiter.
	//
	// The callback is supposed to perform minimal work. It may unregister
	// entries, including e.
	Callback(e *Entry, mask EventMask)
}

// CallbackFunc adapts a function to EntryCallback.
type CallbackFunc func(e *Entry, mask EventMask)

// Callback implements EntryCallback.Callback.
func (f CallbackFunc) Callback(e *Entry, mask EventMask) {
	f(e, mask)
}

// Entry represents a waiter that can be added to a wait queue. It can only be
// in one queue at a time.
type Entry struct {
	ilist.Entry[*Entry]

	// Context stores any state the waiter may wish to store in the entry
	// itself, which may be used at wake up time.
	Context any

	Callback EntryCallback

	// The following fields are protected by the queue lock.
	mask  EventMask
	queue *Queue
}

// NewFunctionEntry returns an Entry that calls fn when notified.
func NewFunctionEntry(ctx any, fn func(e *Entry, mask EventMask)) Entry {
	return Entry{Context: ctx, Callback: CallbackFunc(fn)}
}

// Queued returns true if e is registered with a queue.
func (e *Entry) Queued() bool {
	return e.queue != nil
}

// Queue represents the wait queue where waiters can be added and notifiers
// can notify them when events happen. Entries are notified in registration
// order.
//
// The zero value for waiter.Queue is an empty queue ready for use.
type Queue struct {
	mu   sync.Mutex
	list ilist.List[*Entry]
}

// EventRegister adds a waiter to the wait queue; the waiter will be notified
// when at least one of the events specified in mask happens. Registering an
// entry that is already in q updates its mask.
func (q *Queue) EventRegister(e *Entry, mask EventMask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e.mask = mask
	if e.queue == q {
		return
	}
	if e.queue != nil {
		panic("waiter: entry registered with another queue")
	}
	e.queue = q
	q.list.PushBack(e)
}

// EventUnregister removes the given waiter entry from the wait queue. It is a
// no-op if e is not registered with q.
func (q *Queue) EventUnregister(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.queue != q {
		return
	}
	q.list.Remove(e)
	e.queue = nil
}

// Notify notifies all waiters in the queue whose masks have at least one bit
// in common with the notification mask. It returns the number of waiters
// notified.
func (q *Queue) Notify(mask EventMask) int {
	q.mu.Lock()
	var ready []*Entry
	for e := q.list.Front(); e != nil; e = e.Next() {
		if mask&e.mask != 0 {
			ready = append(ready, e)
		}
	}
	q.mu.Unlock()

	for _, e := range ready {
		e.Callback.Callback(e, mask)
	}
	return len(ready)
}

// Events returns the set of events being waited on. It is the union of the
// masks of all registered entries.
func (q *Queue) Events() EventMask {
	q.mu.Lock()
	defer q.mu.Unlock()
	ret := EventMask(0)
	for e := q.list.Front(); e != nil; e = e.Next() {
		ret |= e.mask
	}
	return ret
}

// IsEmpty returns if the wait queue is empty or not.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Empty()
}
