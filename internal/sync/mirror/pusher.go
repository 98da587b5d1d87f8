package mirror

import (
	"context"
	"sync"

	"github.com/mschirtzinger/flowsync/internal/sync/remote"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

type job struct {
	identityID string
	kind       schema.Kind
	docs       []remote.Document
	deleteID   string
}

// pusher runs scheduled remote writes on a single goroutine in FIFO order.
type pusher struct {
	m *Mirror

	mu      sync.Mutex
	queue   []job
	closed  bool
	pending sync.WaitGroup

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newPusher(m *Mirror) *pusher {
	p := &pusher{
		m:    m,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Schedule queues a push of entities (schema values or documents) for the
// current identity. It returns immediately and is a no-op when the mirror is
// not enabled. Entities that cannot be encoded are logged and skipped.
func (m *Mirror) Schedule(kind schema.Kind, entities ...any) {
	st := m.currentDurable()
	if st == "" || len(entities) == 0 {
		return
	}

	docs := make([]remote.Document, 0, len(entities))
	for _, e := range entities {
		if doc, ok := e.(remote.Document); ok {
			docs = append(docs, doc)
			continue
		}
		fields, err := schema.ToMap(e)
		if err != nil {
			m.logger.Warn().Err(err).Str("kind", string(kind)).Msg("skipping unencodable entity")
			continue
		}
		docs = append(docs, remote.Document(fields))
	}
	m.pusher.enqueue(job{identityID: st, kind: kind, docs: docs})
}

// ScheduleDelete queues removal of one remote document for the current
// identity.
func (m *Mirror) ScheduleDelete(kind schema.Kind, id string) {
	st := m.currentDurable()
	if st == "" {
		return
	}
	m.pusher.enqueue(job{identityID: st, kind: kind, deleteID: id})
}

// Wait blocks until every scheduled job has run.
func (m *Mirror) Wait() {
	m.pusher.pending.Wait()
}

func (m *Mirror) currentDurable() string {
	if !m.Enabled() {
		return ""
	}
	return m.ids.Current().ID
}

func (p *pusher) enqueue(j job) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending.Add(1)
	p.queue = append(p.queue, j)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pusher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if len(p.queue) == 0 || p.closed {
				p.mu.Unlock()
				break
			}
			j := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()

			p.exec(j)
			p.pending.Done()
		}
	}
}

// exec runs one job. Errors are already recorded by the Mirror.
func (p *pusher) exec(j job) {
	ctx := context.Background()
	if j.deleteID != "" {
		_ = p.m.Delete(ctx, j.identityID, j.kind, j.deleteID)
		return
	}
	_ = p.m.Push(ctx, j.identityID, j.kind, j.docs)
}

func (p *pusher) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	abandoned := len(p.queue)
	p.queue = nil
	p.mu.Unlock()

	for i := 0; i < abandoned; i++ {
		p.pending.Done()
	}
	close(p.done)
	p.wg.Wait()
}
