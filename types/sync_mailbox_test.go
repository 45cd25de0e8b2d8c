package types

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMailboxConfigUpdates(t *testing.T) {
	m := NewSyncMailbox[ConnectionConfig, bool]()

	var received []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for cb := range m.ReceiveC() {
			received = append(received, cb.Value.URL)
			cb.Notify(true, nil)
		}
	}()

	ctx := context.Background()
	ok, err := m.Send(ctx, ConnectionConfig{URL: "http://one"})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.Send(ctx, ConnectionConfig{URL: "http://two"})
	require.NoError(t, err)
	require.True(t, ok)
	m.Close()
	wg.Wait()

	require.Equal(t, []string{"http://one", "http://two"}, received)
}

func TestSyncMailboxNoReceiver(t *testing.T) {
	m := NewSyncMailbox[string, bool]()
	ctx, cncl := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cncl()

	success, err := m.Send(ctx, "should fail")
	require.Error(t, err)
	require.False(t, success)
}

func TestSyncMailboxConcurrent(t *testing.T) {
	m := NewSyncMailbox[int, int]()

	var received int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for cb := range m.ReceiveC() {
			received++
			cb.Notify(cb.Value, nil)
		}
	}()

	const numSenders = 10
	const messagesPerSender = 100
	var sendWg sync.WaitGroup
	sendWg.Add(numSenders)
	for i := 0; i < numSenders; i++ {
		go func(senderID int) {
			defer sendWg.Done()
			for j := 0; j < messagesPerSender; j++ {
				value := senderID*messagesPerSender + j
				ret, err := m.Send(context.Background(), value)
				assert.NoError(t, err)
				assert.Equal(t, value, ret)
			}
		}(i)
	}
	sendWg.Wait()
	m.Close()
	wg.Wait()

	require.Equal(t, numSenders*messagesPerSender, received)
}

func TestMailboxClosed(t *testing.T) {
	m := NewMailbox[Batch]()
	ctx := context.Background()
	require.NoError(t, m.Send(ctx, Batch{Payload: "{}", RecordCount: 1}))
	m.Close()
	m.Close()
	require.ErrorIs(t, m.Send(ctx, Batch{}), ErrMailboxClosed)

	b, ok := <-m.ReceiveC()
	require.True(t, ok)
	require.Equal(t, 1, b.RecordCount)
}

func TestMailboxSendRacingClose(t *testing.T) {
	for round := 0; round < 50; round++ {
		m := NewMailbox[int]()
		ctx := context.Background()
		var wg sync.WaitGroup
		var mut sync.Mutex
		sent, rejected := 0, 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					err := m.Send(ctx, j)
					mut.Lock()
					if err == nil {
						sent++
					} else if errors.Is(err, ErrMailboxClosed) {
						rejected++
					}
					mut.Unlock()
				}
			}()
		}
		m.Close()
		wg.Wait()

		received := 0
		for range m.ReceiveC() {
			received++
		}
		require.Equal(t, sent, received)
		require.Equal(t, 800, sent+rejected)
	}
}
