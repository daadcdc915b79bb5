package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"musaic/logger"
)

// QueueFailureMessage is shown when the enqueue request fails.
const QueueFailureMessage = "Failed to add track to queue"

var ErrMissingURI = errors.New("track uri is required")

// QueueState is the tri-state result of the last enqueue.
type QueueState string

const (
	QueueIdle    QueueState = "idle"
	QueueLoading QueueState = "loading"
	QueueError   QueueState = "error"
)

// QueueStatus is what callers render.
type QueueStatus struct {
	State   QueueState `json:"state"`
	Message string     `json:"message,omitempty"`
}

// Enqueuer appends to the remote playback queue.
type Enqueuer interface {
	AddToQueue(ctx context.Context, trackURI, deviceID string) error
}

// Queue issues enqueue requests. The remote queue is never read back.
type Queue struct {
	client   Enqueuer
	onChange func(QueueStatus)

	mu     sync.Mutex
	status QueueStatus
}

// NewQueue creates an idle queue helper. onChange may be nil.
func NewQueue(client Enqueuer, onChange func(QueueStatus)) *Queue {
	return &Queue{
		client:   client,
		onChange: onChange,
		status:   QueueStatus{State: QueueIdle},
	}
}

// Status returns the last enqueue result.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Add sends exactly one enqueue request for trackURI.
func (q *Queue) Add(ctx context.Context, trackURI string) error {
	if strings.TrimSpace(trackURI) == "" {
		q.set(QueueStatus{State: QueueError, Message: QueueFailureMessage})
		return ErrMissingURI
	}

	q.set(QueueStatus{State: QueueLoading})
	if err := q.client.AddToQueue(ctx, trackURI, ""); err != nil {
		logger.Error("[Queue] 添加到播放队列失败", logger.String("uri", trackURI), logger.ErrorField(err))
		q.set(QueueStatus{State: QueueError, Message: QueueFailureMessage})
		return fmt.Errorf("add to queue: %w", err)
	}
	q.set(QueueStatus{State: QueueIdle})
	return nil
}

func (q *Queue) set(s QueueStatus) {
	q.mu.Lock()
	q.status = s
	q.mu.Unlock()
	if q.onChange != nil {
		q.onChange(s)
	}
}
