package network

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/metricexport/types"
	"golang.design/x/chann"
)

// Manager feeds queued batches to a fixed number of senders sharing one Client. Config updates are handed to
// the run loop so they never race a sender picking up its next batch.
type Manager struct {
	client      *Client
	logger      log.Logger
	connections int
	batches     *types.Mailbox[types.Batch]
	configInbox *types.SyncMailbox[types.ConnectionConfig, bool]
	senders     sync.WaitGroup
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

var _ types.NetworkClient = (*Manager)(nil)

// NewManager builds the client. connections below one are treated as one, queueCap of zero leaves the queue
// unbounded.
func NewManager(cc types.ConnectionConfig, connections int, queueCap int, logger log.Logger, statshub types.StatsHub) (*Manager, error) {
	client, err := New(cc, logger, statshub.SendNetworkStats)
	if err != nil {
		return nil, err
	}
	if connections < 1 {
		connections = 1
	}
	var opts []chann.Opt
	if queueCap > 0 {
		opts = append(opts, chann.Cap(queueCap))
	}
	return &Manager{
		client:      client,
		logger:      log.With(logger, "component", "network_manager"),
		connections: connections,
		batches:     types.NewMailbox[types.Batch](opts...),
		configInbox: types.NewSyncMailbox[types.ConnectionConfig, bool](),
	}, nil
}

func (s *Manager) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.connections; i++ {
		s.senders.Add(1)
		go s.sender(ctx, i)
	}
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop abandons whatever is still queued and waits for the senders to return.
func (s *Manager) Stop() {
	s.client.Stop()
	s.batches.Close()
	if s.cancel != nil {
		s.cancel()
	}
	s.senders.Wait()
	s.wg.Wait()
}

// DrainStop stops accepting batches and waits until every queued batch has been sent or given up on.
func (s *Manager) DrainStop() {
	s.batches.Close()
	s.senders.Wait()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Enqueue queues a batch for sending, it blocks only when the queue has a capacity and is full.
func (s *Manager) Enqueue(ctx context.Context, b types.Batch) error {
	return s.batches.Send(ctx, b)
}

// QueueLen is the approximate number of batches waiting for a sender.
func (s *Manager) QueueLen() int {
	return s.batches.AproxLen()
}

// Send delivers the batch on the calling goroutine, bypassing the queue.
func (s *Manager) Send(ctx context.Context, b types.Batch) error {
	return s.client.Send(ctx, b)
}

// EnsureMetric registers def on the calling goroutine, see Client.EnsureMetric.
func (s *Manager) EnsureMetric(ctx context.Context, def types.MetricDefinition) error {
	return s.client.EnsureMetric(ctx, def)
}

func (s *Manager) UpdateConfig(ctx context.Context, cc types.ConnectionConfig) (bool, error) {
	return s.configInbox.Send(ctx, cc)
}

func (s *Manager) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-s.configInbox.ReceiveC():
			if !ok {
				level.Debug(s.logger).Log("msg", "config inbox closed")
				return
			}
			changed, err := s.client.UpdateConfig(ctx, cfg.Value)
			if err != nil {
				level.Error(s.logger).Log("msg", "update config failure", "err", err)
			}
			cfg.Notify(changed, err)
		}
	}
}

func (s *Manager) sender(ctx context.Context, id int) {
	defer s.senders.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-s.batches.ReceiveC():
			if !ok {
				return
			}
			if err := s.client.Send(ctx, b); err != nil {
				level.Debug(s.logger).Log("msg", "batch not delivered", "sender", id, "group", b.Group, "records", b.RecordCount, "err", err)
			}
		}
	}
}
