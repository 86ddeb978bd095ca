package session

import (
	"context"
	"sync"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/persistence"
	"github.com/rs/zerolog"
)

const persistTimeout = 30 * time.Second

type jobKind string

const (
	jobSave   jobKind = "save"
	jobRename jobKind = "rename"
	jobFlush  jobKind = "flush"
)

// target is one stored conversation. Its id is empty until the first save
// has created it. Fields are guarded by persister.mu.
type target struct {
	id   string
	name string
}

type persistJob struct {
	kind jobKind
	// bound when the job is queued, so jobs queued before a Load still
	// write to the conversation they were issued for
	target  *target
	history conversation.Conversation
	done    chan error
}

// persister runs the gateway calls of one controller on a single worker, in
// the order they were issued. Enqueueing never blocks.
type persister struct {
	gateway   persistence.Gateway
	logger    zerolog.Logger
	onCreated func(id string)
	onError   func(op string, err error)

	mu      sync.Mutex
	current *target
	queue   []persistJob
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

func newPersister(
	gateway persistence.Gateway,
	id, name string,
	logger zerolog.Logger,
	onCreated func(id string),
	onError func(op string, err error),
) *persister {
	p := &persister{
		gateway:   gateway,
		logger:    logger,
		onCreated: onCreated,
		onError:   onError,
		current:   &target{id: id, name: name},
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) enqueue(j persistJob) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	if j.target == nil {
		j.target = p.current
	}
	p.queue = append(p.queue, j)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *persister) save(history conversation.Conversation) {
	p.enqueue(persistJob{kind: jobSave, history: history})
}

// rename records the new name. An unsaved conversation picks it up when it is
// created, otherwise the rename is sent to the gateway and awaited.
func (p *persister) rename(ctx context.Context, name string) error {
	p.mu.Lock()
	p.current.name = name
	unsaved := p.current.id == ""
	p.mu.Unlock()
	if unsaved {
		return nil
	}
	return p.await(ctx, jobRename)
}

// flush waits until every job queued before it has been processed.
func (p *persister) flush(ctx context.Context) error {
	return p.await(ctx, jobFlush)
}

func (p *persister) await(ctx context.Context, kind jobKind) error {
	done := make(chan error, 1)
	if !p.enqueue(persistJob{kind: kind, done: done}) {
		return ErrSessionClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// adopt switches to a conversation loaded from the gateway. Jobs already
// queued keep their previous target.
func (p *persister) adopt(id, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &target{id: id, name: name}
}

// close stops accepting jobs. Jobs already queued are still processed.
func (p *persister) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.stopped)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 {
			if p.closed {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			<-p.wake
			p.mu.Lock()
		}
		j := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		err := p.process(j)
		if j.done != nil {
			j.done <- err
		}
	}
}

func (p *persister) process(j persistJob) error {
	if j.kind == jobFlush {
		return nil
	}

	p.mu.Lock()
	id, name := j.target.id, j.target.name
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	switch j.kind {
	case jobSave:
		if id == "" {
			doc, err := p.gateway.Create(ctx, name, j.history)
			if err != nil {
				p.report("create", err)
				return err
			}
			p.mu.Lock()
			j.target.id = doc.ID
			current := j.target.name
			adopted := j.target != p.current
			p.mu.Unlock()
			// renamed while the create call was running
			if current != name {
				if err := p.gateway.Rename(ctx, doc.ID, current); err != nil {
					p.report("rename", err)
				}
			}
			p.logger.Debug().Str("session_id", doc.ID).Int("messages", len(j.history)).Msg("created conversation")
			if p.onCreated != nil && !adopted {
				p.onCreated(doc.ID)
			}
			return nil
		}
		if err := p.gateway.Save(ctx, id, j.history); err != nil {
			p.report("save", err)
			return err
		}
		p.logger.Trace().Str("session_id", id).Int("messages", len(j.history)).Msg("saved conversation")
	case jobRename:
		if err := p.gateway.Rename(ctx, id, name); err != nil {
			p.report("rename", err)
			return err
		}
	}
	return nil
}

func (p *persister) report(op string, err error) {
	p.logger.Warn().Err(err).Str("op", op).Msg("persistence failed")
	if p.onError != nil {
		p.onError(op, err)
	}
}
