package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

const defaultBufferSize = 1000

// ChannelBus implements EventBus using Go channels.
// Used as the Community tier event bus. Publishing to a full subscriber
// blocks until it has room or the publisher's context ends.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
	wg            sync.WaitGroup
}

type channelSubscription struct {
	id      string
	key     string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus

	// mu orders deliveries against Unsubscribe so nothing lands in msgCh
	// after the final drain.
	mu      sync.Mutex
	closing bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish delivers a message to every subscriber of the tenant's topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	msg, err := newMessage(ctx, tenantID, topic, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*channelSubscription(nil), b.subscriptions[tenantID+":"+topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.deliver(ctx, msg); err != nil {
			return err
		}
	}

	return nil
}

func (s *channelSubscription) deliver(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil
	}
	select {
	case s.msgCh <- msg:
		return nil
	case <-s.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for a topic. Messages are handled one at
// a time in publish order.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		key:     tenantID + ":" + topic,
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	b.subscriptions[sub.key] = append(b.subscriptions[sub.key], sub)

	b.wg.Add(1)
	go sub.run()

	return sub, nil
}

func (s *channelSubscription) run() {
	defer s.bus.wg.Done()
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.stop:
			for {
				select {
				case msg := <-s.msgCh:
					dispatch(s.ctx, s.handler, msg)
				default:
					return
				}
			}
		case msg := <-s.msgCh:
			dispatch(s.ctx, s.handler, msg)
		}
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription and waits for in-flight handlers.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// Unsubscribe stops receiving messages. Messages already buffered for the
// subscription are handled before it returns, so it must not be called
// from the subscription's own handler.
func (s *channelSubscription) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	subs := b.subscriptions[s.key]
	for i, other := range subs {
		if other.id == s.id {
			b.subscriptions[s.key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.once.Do(func() { close(s.stop) })
	<-s.done
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
