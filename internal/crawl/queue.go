package crawl

import (
	"sync"
	"time"
)

// PageStatus is the crawl state of one discovered page.
type PageStatus string

const (
	PagePending PageStatus = "pending"
	PageVisited PageStatus = "visited"
	PageFailed  PageStatus = "failed"
)

// Page is one URL in the crawl frontier.
type Page struct {
	URL          string
	Depth        int
	ParentURL    string
	Priority     int
	DiscoveredAt time.Time
	Status       PageStatus
	VisitedAt    time.Time
	Error        string
}

// Queue is the crawl frontier: higher priority first, insertion order
// within a priority level.
type Queue struct {
	mu    sync.Mutex
	items []*queueItem
	urls  map[string]bool
	seq   int
}

type queueItem struct {
	page Page
	seq  int
}

func NewQueue() *Queue {
	return &Queue{urls: make(map[string]bool)}
}

// Enqueue adds a page to the frontier.
func (q *Queue) Enqueue(page Page) {
	if page.Status == "" {
		page.Status = PagePending
	}
	if page.DiscoveredAt.IsZero() {
		page.DiscoveredAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	item := &queueItem{page: page, seq: q.seq}

	// Insert before the first item with strictly lower priority so
	// equal priorities keep insertion order.
	pos := len(q.items)
	for i, it := range q.items {
		if it.page.Priority < page.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = item

	q.urls[page.URL] = true
}

// Dequeue pops the highest-priority page, or false when empty.
func (q *Queue) Dequeue() (Page, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Page{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	delete(q.urls, item.page.URL)
	return item.page, true
}

// HasURL reports whether the URL is currently queued.
func (q *Queue) HasURL(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.urls[url]
}

// IsEmpty reports whether the frontier is drained.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of queued pages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
