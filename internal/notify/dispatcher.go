// Package notify turns live market events into user-facing notifications.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/enliven17/somnia-predict/internal/metrics"
	"github.com/enliven17/somnia-predict/internal/model"
)

// Notification is the rendered form of one live event.
type Notification struct {
	Kind        model.EventType `json:"kind"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	MarketID    string          `json:"marketId"`
	EventID     string          `json:"eventId"`
	Link        string          `json:"link,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

// Sink delivers notifications somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Observer receives every dispatched event after the sinks.
type Observer interface {
	Observe(event model.MarketEvent)
}

// DefaultQueueSize is the number of notifications buffered per sink.
const DefaultQueueSize = 256

// Options controls notification rendering and delivery.
type Options struct {
	TokenSymbol string
	ExplorerURL string
	QueueSize   int
}

type sinkQueue struct {
	sink  Sink
	queue chan Notification
}

// Dispatcher fans live events out to sinks and observers. Each sink is fed
// from its own queue by Run, so a slow sink never blocks Dispatch.
type Dispatcher struct {
	opts      Options
	sinks     []*sinkQueue
	observers []Observer
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewDispatcher(opts Options, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Dispatcher{opts: opts, logger: logger, metrics: m}
}

// AddSink registers a sink. Sinks must be added before Run.
func (d *Dispatcher) AddSink(sink Sink) {
	d.sinks = append(d.sinks, &sinkQueue{sink: sink, queue: make(chan Notification, d.opts.QueueSize)})
}

func (d *Dispatcher) AddObserver(observer Observer) {
	d.observers = append(d.observers, observer)
}

// Dispatch renders the event, queues it for every sink and calls the
// observers. It never blocks: a full sink queue drops the notification.
// History events are ignored.
func (d *Dispatcher) Dispatch(_ context.Context, event model.MarketEvent) {
	if event.Source != model.SourceLive {
		return
	}

	if n, ok := Render(event, d.opts); ok {
		for _, sq := range d.sinks {
			select {
			case sq.queue <- n:
			default:
				d.metrics.ObserveNotificationDrop(sq.sink.Name())
				d.logger.Warn("notification dropped",
					zap.String("sink", sq.sink.Name()),
					zap.String("event_id", event.ID),
				)
			}
		}
	}

	for _, observer := range d.observers {
		observer.Observe(event)
	}
}

// Run delivers queued notifications, one worker per sink, until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sq := range d.sinks {
		sq := sq
		g.Go(func() error {
			d.drain(gctx, sq)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) drain(ctx context.Context, sq *sinkQueue) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-sq.queue:
			err := sq.sink.Send(ctx, n)
			d.metrics.ObserveNotification(sq.sink.Name(), err)
			if err != nil {
				d.logger.Warn("notification failed",
					zap.String("sink", sq.sink.Name()),
					zap.String("event_id", n.EventID),
					zap.Error(err),
				)
			}
		}
	}
}

// Render builds the notification for an event type.
func Render(event model.MarketEvent, opts Options) (Notification, bool) {
	n := Notification{
		Kind:      event.Type,
		MarketID:  event.MarketID,
		EventID:   event.ID,
		Link:      txLink(opts.ExplorerURL, event.TxHash),
		Timestamp: event.Timestamp,
	}
	title := marketTitle(event)

	switch event.Type {
	case model.EventBetPlaced:
		n.Title = "New Bet"
		n.Description = fmt.Sprintf("%s %s on %s · %s",
			formatAmount(event.Data.Amount), symbol(opts), event.Data.SelectedLabel(), title)
	case model.EventMarketResolved:
		n.Title = "Market Resolved!"
		n.Description = fmt.Sprintf("%s: winner %s. Check if you won and claim your winnings",
			title, event.Data.SelectedLabel())
	case model.EventMarketCreated:
		n.Title = "New Market Created!"
		n.Description = title
	default:
		return Notification{}, false
	}
	return n, true
}

func marketTitle(event model.MarketEvent) string {
	if event.Data.MarketTitle != "" {
		return event.Data.MarketTitle
	}
	if event.Data.Title != "" {
		return event.Data.Title
	}
	return model.FallbackMarketInfo(event.MarketID).Title
}

func formatAmount(wei string) string {
	amount, err := model.ParseWei(wei)
	if err != nil {
		return wei
	}
	return model.FormatTokens(amount)
}

func symbol(opts Options) string {
	if opts.TokenSymbol == "" {
		return "STT"
	}
	return opts.TokenSymbol
}

func txLink(explorerURL, txHash string) string {
	if explorerURL == "" || txHash == "" {
		return ""
	}
	return strings.TrimRight(explorerURL, "/") + "/tx/" + txHash
}
