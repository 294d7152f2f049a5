package services

import (
	"context"
	"sync"

	"invoiceflow/internal/core"
	"invoiceflow/internal/log"
)

// SnapshotLoader returns the full ordered invoice list of a workspace.
type SnapshotLoader func(ctx context.Context, workspaceID string) ([]core.Invoice, error)

// Feed pushes full workspace snapshots to live subscribers. Snapshots are
// loaded and delivered under one lock, so every subscriber observes them in
// write order.
type Feed struct {
	mu     sync.Mutex
	load   SnapshotLoader
	subs   map[string]map[*Subscription]struct{}
	logger *log.Logger
}

func NewFeed(load SnapshotLoader, logger *log.Logger) *Feed {
	return &Feed{
		load:   load,
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger.WithComponent(log.ComponentFeed),
	}
}

// Subscription receives workspace snapshots on C. Only the most recent
// undelivered snapshot is kept, so a slow reader skips intermediate states.
type Subscription struct {
	workspaceID string
	ch          chan []core.Invoice
	feed        *Feed

	mu     sync.Mutex
	closed bool
	stop   func() bool
}

// C returns the snapshot channel. It is closed once the subscription is cancelled.
func (s *Subscription) C() <-chan []core.Invoice {
	return s.ch
}

// Cancel stops delivery. No snapshot is sent after Cancel returns. Calling it
// more than once is safe.
func (s *Subscription) Cancel() {
	s.feed.remove(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	if s.stop != nil {
		s.stop()
	}
}

func (s *Subscription) deliver(snapshot []core.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snapshot
}

// Subscribe registers a subscriber and delivers the current snapshot before
// returning. The subscription is cancelled when ctx is done.
func (f *Feed) Subscribe(ctx context.Context, workspaceID string) (*Subscription, error) {
	sub := &Subscription{
		workspaceID: workspaceID,
		ch:          make(chan []core.Invoice, 1),
		feed:        f,
	}

	f.mu.Lock()
	snapshot, err := f.load(ctx, workspaceID)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	set, ok := f.subs[workspaceID]
	if !ok {
		set = make(map[*Subscription]struct{})
		f.subs[workspaceID] = set
	}
	set[sub] = struct{}{}
	sub.deliver(snapshot)
	f.mu.Unlock()

	stop := context.AfterFunc(ctx, sub.Cancel)
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		stop()
	} else {
		sub.stop = stop
		sub.mu.Unlock()
	}

	f.logger.DebugContext(ctx, "Feed subscriber added", log.FieldWorkspaceID, workspaceID)
	return sub, nil
}

// InvoiceChanged reloads the affected workspace and pushes the snapshot to its
// subscribers.
func (f *Feed) InvoiceChanged(ctx context.Context, change core.InvoiceChange) {
	f.Publish(ctx, change.Invoice.WorkspaceID)
}

// Publish pushes a fresh snapshot of workspaceID. It never waits on readers.
func (f *Feed) Publish(ctx context.Context, workspaceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := f.subs[workspaceID]
	if len(set) == 0 {
		return
	}
	snapshot, err := f.load(context.WithoutCancel(ctx), workspaceID)
	if err != nil {
		f.logger.ErrorContext(ctx, "Failed to load feed snapshot",
			log.FieldWorkspaceID, workspaceID, log.FieldError, err)
		return
	}
	for sub := range set {
		sub.deliver(snapshot)
	}
}

// Subscribers reports the number of live subscribers of workspaceID.
func (f *Feed) Subscribers(workspaceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[workspaceID])
}

func (f *Feed) remove(s *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.subs[s.workspaceID]
	delete(set, s)
	if len(set) == 0 {
		delete(f.subs, s.workspaceID)
	}
}
