package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
)

type Job struct {
	ContentID string     `json:"contentId"`
	Status    Status     `json:"status"`
	QueuedAt  time.Time  `json:"queuedAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// Handler processes one content item. Its error is logged and dropped.
type Handler func(ctx context.Context, contentID string) error

// Queue runs at most MaxConcurrent handlers at once, oldest job first. A
// content ID is never queued or processing twice.
type Queue struct {
	handler       Handler
	maxConcurrent int
	interval      time.Duration

	mu         sync.Mutex
	idle       *sync.Cond
	ctx        context.Context
	queued     []*Job
	processing map[string]*Job
}

func New(handler Handler, maxConcurrent int, interval time.Duration) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	q := &Queue{
		handler:       handler,
		maxConcurrent: maxConcurrent,
		interval:      interval,
		ctx:           context.Background(),
		processing:    map[string]*Job{},
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds contentID unless it is already queued or processing, in which
// case the existing job is returned with false.
func (q *Queue) Enqueue(contentID string) (Job, bool) {
	q.mu.Lock()
	if j, ok := q.processing[contentID]; ok {
		q.mu.Unlock()
		return *j, false
	}
	for _, j := range q.queued {
		if j.ContentID == contentID {
			q.mu.Unlock()
			return *j, false
		}
	}
	j := &Job{ContentID: contentID, Status: Queued, QueuedAt: time.Now()}
	q.queued = append(q.queued, j)
	log.Infof("queued %s (%d waiting, %d processing)", contentID, len(q.queued), len(q.processing))
	q.dispatchLocked()
	job := *j
	q.mu.Unlock()
	return job, true
}

func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatchLocked()
}

func (q *Queue) dispatchLocked() {
	if q.ctx.Err() != nil {
		return
	}
	for len(q.processing) < q.maxConcurrent && len(q.queued) > 0 {
		j := q.queued[0]
		q.queued[0] = nil
		q.queued = q.queued[1:]

		now := time.Now()
		j.Status = Processing
		j.StartedAt = &now
		q.processing[j.ContentID] = j
		go q.run(q.ctx, j.ContentID)
	}
}

func (q *Queue) run(ctx context.Context, contentID string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("job %s panicked: %v", contentID, r)
		}
		q.mu.Lock()
		delete(q.processing, contentID)
		q.dispatchLocked()
		q.idle.Broadcast()
		q.mu.Unlock()
	}()

	log.Infof("processing %s", contentID)
	if err := q.handler(ctx, contentID); err != nil {
		log.Errorf("job %s failed after %v: %v", contentID, time.Since(start), err)
		return
	}
	log.Infof("job %s done in %v", contentID, time.Since(start))
}

// Start re-triggers dispatch every interval until ctx ends. Jobs started
// afterwards receive ctx.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.ctx = ctx
	q.dispatchLocked()
	q.mu.Unlock()

	interval := q.interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		case <-ticker.C:
			q.dispatch()
		}
	}
}

// Wait blocks until nothing is processing and nothing is left to start.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.processing) > 0 || (len(q.queued) > 0 && q.ctx.Err() == nil) {
		q.idle.Wait()
	}
}

type QueuedJob struct {
	ContentID string    `json:"contentId"`
	QueuedAt  time.Time `json:"queuedAt"`
}

type Snapshot struct {
	Queued         int         `json:"queued"`
	Processing     int         `json:"processing"`
	MaxConcurrent  int         `json:"maxConcurrent"`
	Jobs           []QueuedJob `json:"jobs"`
	ProcessingJobs []string    `json:"processingJobs"`
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%d queued, %d/%d processing", s.Queued, s.Processing, s.MaxConcurrent)
}

func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Snapshot{
		Queued:         len(q.queued),
		Processing:     len(q.processing),
		MaxConcurrent:  q.maxConcurrent,
		Jobs:           make([]QueuedJob, 0, len(q.queued)),
		ProcessingJobs: make([]string, 0, len(q.processing)),
	}
	for _, j := range q.queued {
		s.Jobs = append(s.Jobs, QueuedJob{ContentID: j.ContentID, QueuedAt: j.QueuedAt})
	}
	for id := range q.processing {
		s.ProcessingJobs = append(s.ProcessingJobs, id)
	}
	return s
}
