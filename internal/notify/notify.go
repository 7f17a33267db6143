// Package notify delivers blocking, user-facing alerts.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	appLog "pic2contact/internal/log"
)

// Notifier surfaces a message to the user. Delivery failures are logged by
// the implementation and never propagated into the workflow.
type Notifier interface {
	Alert(ctx context.Context, msg string)
}

// Writer prints alerts as lines, e.g. to stderr for the CLI.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (n *Writer) Alert(_ context.Context, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := fmt.Fprintln(n.w, msg); err != nil {
		appLog.Error("alert write failed", err)
	}
}

// Queue buffers alerts until a client drains them. The kiosk page pops the
// queue after every action and shows each entry with window.alert.
type Queue struct {
	mu      sync.Mutex
	pending []string
}

func (q *Queue) Alert(_ context.Context, msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

// Drain returns and clears all pending alerts, oldest first.
func (q *Queue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}
