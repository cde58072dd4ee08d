package tx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/oodb/internal/logging"
	"github.com/KilimcininKorOglu/oodb/internal/storage"
)

// Participant is the store side of a transaction. The coordinator owns the
// lifecycle; the participant owns the data.
type Participant interface {
	// LockCommit and UnlockCommit guard the shared commit barrier of the
	// backing file.
	LockCommit()
	UnlockCommit()

	// Prepare is called when a transaction becomes explicit, with the
	// commit lock held for exclusive transactions.
	Prepare(t *Transaction) error

	// Flush makes the changes of t durable. It is called with the commit
	// lock held. On error the participant has already discarded the
	// changes.
	Flush(t *Transaction) error

	// Discard drops the changes of t.
	Discard(t *Transaction)
}

// Coordinator manages the transactions of one store handle: begin, commit
// and rollback. A handle runs at most one transaction at a time; Begin
// blocks until the current explicit transaction ends.
type Coordinator struct {
	nextTxID uint64

	participant Participant
	log         logging.Logger

	// gate is held by the active explicit transaction.
	gate chan struct{}

	mu      sync.Mutex
	current *Transaction
}

// NewCoordinator creates a coordinator for participant.
func NewCoordinator(p Participant, log logging.Logger) *Coordinator {
	if log == nil {
		log = logging.NewNop()
	}
	return &Coordinator{
		nextTxID:    1,
		participant: p,
		log:         log,
		gate:        make(chan struct{}, 1),
	}
}

func (c *Coordinator) newTransaction(mode Mode, implicit bool, baseSeq uint64) *Transaction {
	id := atomic.AddUint64(&c.nextTxID, 1) - 1
	trace := logging.NewTraceID()
	return &Transaction{
		ID:        id,
		Trace:     trace,
		Mode:      mode,
		Implicit:  implicit,
		StartTime: time.Now(),
		BaseSeq:   baseSeq,
		state:     TxActive,
		coord:     c,
		log:       c.log.WithTx(id, trace),
	}
}

// Begin starts an explicit transaction. It waits for the current explicit
// transaction of the handle to end or for ctx to be done. A ctx that is
// never done cannot end the wait, so Begin then fails with
// storage.ErrInvalidState while an explicit transaction is active. Pending
// changes of an implicit transaction become part of the new one.
func (c *Coordinator) Begin(ctx context.Context, mode Mode, baseSeq uint64) (*Transaction, error) {
	if ctx.Done() == nil {
		c.mu.Lock()
		t := c.current
		c.mu.Unlock()
		if t != nil && !t.Implicit {
			return nil, fmt.Errorf("%w: transaction %d is active on this handle", storage.ErrInvalidState, t.ID)
		}
	}

	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if mode == Exclusive {
		c.participant.LockCommit()
	}

	c.mu.Lock()
	t := c.current
	if t != nil && t.Implicit {
		t.Implicit = false
		t.Mode = mode
	} else {
		t = c.newTransaction(mode, false, baseSeq)
		c.current = t
	}
	c.mu.Unlock()

	if err := c.participant.Prepare(t); err != nil {
		c.end(t, TxAborted)
		c.participant.Discard(t)
		return nil, err
	}

	t.log.Debug("transaction started", "mode", mode.String())
	return t, nil
}

// Current returns the active transaction, or nil.
func (c *Coordinator) Current() *Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Implicit returns the active transaction, starting an implicit cooperative
// one when there is none.
func (c *Coordinator) Implicit(baseSeq uint64) *Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		c.current = c.newTransaction(Cooperative, true, baseSeq)
		c.current.log.Debug("implicit transaction started")
	}
	return c.current
}

// Commit makes the changes of t durable. Committing a transaction that is
// not the active one, or that already ended, fails with
// storage.ErrInvalidState. A failed flush aborts t.
func (c *Coordinator) Commit(t *Transaction) error {
	if err := c.checkActive(t); err != nil {
		return err
	}

	if t.Mode == Cooperative {
		c.participant.LockCommit()
	}
	start := time.Now()
	err := c.participant.Flush(t)
	if t.Mode == Cooperative {
		c.participant.UnlockCommit()
	}

	if err != nil {
		c.end(t, TxAborted)
		t.log.Warn("transaction aborted", "error", err.Error())
		return err
	}

	c.end(t, TxCommitted)
	t.log.Debug("transaction committed", "duration", time.Since(start).String())
	return nil
}

// Rollback discards the changes of t. It fails only with
// storage.ErrInvalidState when t is not active.
func (c *Coordinator) Rollback(t *Transaction) error {
	if err := c.checkActive(t); err != nil {
		return err
	}

	c.participant.Discard(t)
	c.end(t, TxAborted)
	t.log.Debug("transaction rolled back")
	return nil
}

func (c *Coordinator) checkActive(t *Transaction) error {
	if t == nil {
		return fmt.Errorf("%w: nil transaction", storage.ErrInvalidState)
	}
	if s := t.State(); s != TxActive {
		return fmt.Errorf("%w: transaction %d is %s", storage.ErrInvalidState, t.ID, s)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != t {
		return fmt.Errorf("%w: transaction %d is not active on this handle", storage.ErrInvalidState, t.ID)
	}
	return nil
}

// end moves t into its final state and releases its locks.
func (c *Coordinator) end(t *Transaction, s TxState) {
	t.setState(s)

	c.mu.Lock()
	if c.current == t {
		c.current = nil
	}
	c.mu.Unlock()

	if t.Implicit {
		return
	}
	if t.Mode == Exclusive {
		c.participant.UnlockCommit()
	}
	<-c.gate
}
