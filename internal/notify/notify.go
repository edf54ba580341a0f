package notify

import (
	"context"
	"sync"
	"time"

	"election-service/pkg/logger"
)

// ReceiptNotice is what a voter is told after a vote is recorded
type ReceiptNotice struct {
	ElectionID  string
	PositionID  string
	ReceiptHash string
	CastAt      time.Time
}

// Dispatcher delivers messages to voters
type Dispatcher interface {
	DeliverCode(ctx context.Context, voterID, electionID, code string) error
	DeliverReceipt(ctx context.Context, voterID string, notice ReceiptNotice) error
}

// LogDispatcher writes deliveries to the log. Codes are masked.
type LogDispatcher struct {
	log *logger.Logger
}

func NewLogDispatcher(log *logger.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.WithComponent("notify")}
}

func (d *LogDispatcher) DeliverCode(_ context.Context, voterID, electionID, code string) error {
	d.log.Info("Secret code delivered", "voter_id", voterID, "election_id", electionID, "code", mask(code))
	return nil
}

func (d *LogDispatcher) DeliverReceipt(_ context.Context, voterID string, n ReceiptNotice) error {
	d.log.Info("Vote receipt delivered", "voter_id", voterID, "election_id", n.ElectionID,
		"position_id", n.PositionID, "receipt", n.ReceiptHash)
	return nil
}

func mask(code string) string {
	if len(code) <= 2 {
		return "******"
	}
	return code[:2] + "****"
}

// Async delivers in the background. Failures are logged and never reach the caller.
type Async struct {
	next    Dispatcher
	log     *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(next Dispatcher, log *logger.Logger, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Async{next: next, log: log.WithComponent("notify"), timeout: timeout}
}

func (a *Async) DeliverCode(ctx context.Context, voterID, electionID, code string) error {
	a.dispatch(ctx, "code", func(ctx context.Context) error {
		return a.next.DeliverCode(ctx, voterID, electionID, code)
	})
	return nil
}

func (a *Async) DeliverReceipt(ctx context.Context, voterID string, n ReceiptNotice) error {
	a.dispatch(ctx, "receipt", func(ctx context.Context) error {
		return a.next.DeliverReceipt(ctx, voterID, n)
	})
	return nil
}

func (a *Async) dispatch(parent context.Context, kind string, fn func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), a.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.log.WithError(err).Warning("Notification delivery failed", "kind", kind)
		}
	}()
}

// Wait blocks until every pending delivery finished
func (a *Async) Wait() {
	a.wg.Wait()
}
