// Package queue provides the crawl frontier: a priority queue of (url, depth)
// entries that serves API-looking URLs first.
package queue

import (
	"container/heap"
	"errors"
)

// ErrQueueEmpty is returned by Pop on an empty frontier.
var ErrQueueEmpty = errors.New("queue is empty")

// Entry is one unit of crawl work.
type Entry struct {
	URL        string
	Depth      int
	APIRelated bool

	seq uint64
}

// Classifier reports whether a URL looks API-related.
type Classifier func(url string) bool

// priorityQueue implements heap.Interface for Entry.
type priorityQueue []*Entry

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	// API-related URLs first, then shallower, then insertion order.
	if pq[i].APIRelated != pq[j].APIRelated {
		return pq[i].APIRelated
	}
	if pq[i].Depth != pq[j].Depth {
		return pq[i].Depth < pq[j].Depth
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*Entry))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[0 : n-1]
	return item
}

// Frontier orders entries by (not API-related, depth, insertion order).
// Popping from it yields the same sequence as re-running a stable sort on
// that key after every batch of appends. Duplicates are allowed; callers
// filter visited URLs when popping. Not safe for concurrent use; each site
// scan owns its frontier.
type Frontier struct {
	pq       priorityQueue
	classify Classifier
	next     uint64
}

// NewFrontier creates an empty frontier. A nil classifier treats every URL
// as not API-related, which degrades to breadth-first order.
func NewFrontier(classify Classifier) *Frontier {
	if classify == nil {
		classify = func(string) bool { return false }
	}
	f := &Frontier{
		pq:       make(priorityQueue, 0),
		classify: classify,
	}
	heap.Init(&f.pq)
	return f
}

// Push adds url at depth.
func (f *Frontier) Push(url string, depth int) {
	heap.Push(&f.pq, &Entry{
		URL:        url,
		Depth:      depth,
		APIRelated: f.classify(url),
		seq:        f.next,
	})
	f.next++
}

// PushBatch adds urls at depth, in order.
func (f *Frontier) PushBatch(urls []string, depth int) {
	for _, u := range urls {
		f.Push(u, depth)
	}
}

// Pop removes and returns the head entry.
func (f *Frontier) Pop() (Entry, error) {
	if len(f.pq) == 0 {
		return Entry{}, ErrQueueEmpty
	}
	return *heap.Pop(&f.pq).(*Entry), nil
}

// Len returns the number of queued entries.
func (f *Frontier) Len() int {
	return len(f.pq)
}

// IsEmpty returns true if the frontier is empty.
func (f *Frontier) IsEmpty() bool {
	return len(f.pq) == 0
}
