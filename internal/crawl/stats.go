package crawl

import (
	"sync"
	"time"
)

// Stats aggregates counters across one crawl run.
type Stats struct {
	mu sync.Mutex

	start        time.Time
	visitedDepth map[int]int
	failed       int
	skipped      int
	duplicates   int
	links        int
	ajaxFetched  int
	pageTimes    []time.Duration
	maxDepth     int
}

func NewStats() *Stats {
	return &Stats{start: time.Now(), visitedDepth: make(map[int]int)}
}

// RecordVisit counts a successfully fetched page.
func (s *Stats) RecordVisit(depth int, pageTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitedDepth[depth]++
	s.pageTimes = append(s.pageTimes, pageTime)
	if depth > s.maxDepth {
		s.maxDepth = depth
	}
}

func (s *Stats) RecordFailure() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *Stats) RecordSkip() {
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
}

func (s *Stats) RecordDuplicate() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

func (s *Stats) RecordLinks(n int) {
	s.mu.Lock()
	s.links += n
	s.mu.Unlock()
}

func (s *Stats) RecordAjaxFetch() {
	s.mu.Lock()
	s.ajaxFetched++
	s.mu.Unlock()
}

// Summary is the derived view of a crawl's statistics.
type Summary struct {
	PagesVisited    int           `json:"pagesVisited"`
	PagesByDepth    map[int]int   `json:"pagesByDepth"`
	PagesFailed     int           `json:"pagesFailed"`
	PagesSkipped    int           `json:"pagesSkipped"`
	Duplicates      int           `json:"duplicates"`
	LinksDiscovered int           `json:"linksDiscovered"`
	AjaxFetched     int           `json:"ajaxFetched"`
	SuccessRate     float64       `json:"successRate"`
	AveragePageTime time.Duration `json:"averagePageTime"`
	DepthReached    int           `json:"depthReached"`
	TotalTime       time.Duration `json:"totalTime"`
}

// Summarize computes the derived metrics.
func (s *Stats) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	visited := 0
	byDepth := make(map[int]int, len(s.visitedDepth))
	for d, n := range s.visitedDepth {
		visited += n
		byDepth[d] = n
	}

	rate := 0.0
	if visited+s.failed > 0 {
		rate = float64(visited) / float64(visited+s.failed)
	}

	var avg time.Duration
	if len(s.pageTimes) > 0 {
		var total time.Duration
		for _, t := range s.pageTimes {
			total += t
		}
		avg = total / time.Duration(len(s.pageTimes))
	}

	return Summary{
		PagesVisited:    visited,
		PagesByDepth:    byDepth,
		PagesFailed:     s.failed,
		PagesSkipped:    s.skipped,
		Duplicates:      s.duplicates,
		LinksDiscovered: s.links,
		AjaxFetched:     s.ajaxFetched,
		SuccessRate:     rate,
		AveragePageTime: avg,
		DepthReached:    s.maxDepth,
		TotalTime:       time.Since(s.start),
	}
}
