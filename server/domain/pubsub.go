package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

//go:generate go tool mockgen -destination=./mocks/pubsub_mock.go -package=mocks . PubSub

// Topic はPubSubの配送先です。
type Topic string

func SessionTopic(id SessionID) Topic { return Topic("session:" + id.String()) }
func RoomTopic(id RoomID) Topic       { return Topic("room:" + id.String()) }

// RoomControlTopic はjoin/leaveの制御メッセージ用トピックです。
func RoomControlTopic(id RoomID) Topic { return Topic("room:" + id.String() + ":ctrl") }

// Message はトピックに流れる1メッセージです。
type Message struct {
	SessionID SessionID
	Data      []byte
}

// PubSub はセッションとルームをつなぐプロセス内メッセージバスです。
type PubSub interface {
	// Publish はブロックしません。購読側のバッファが満杯なら破棄されます。
	Publish(ctx context.Context, topic Topic, msg Message)
	// PublishWait は全購読者に届くまで待ちます。ctxが終わるとその時点で諦めてエラーを返します。
	// 購読解除された購読者への配送は成功扱いです。
	PublishWait(ctx context.Context, topic Topic, msg Message) error
	Subscribe(topic Topic) <-chan Message
	Unsubscribe(topic Topic, ch <-chan Message)
}

const subscriberBufferSize = 256

type subscriber struct {
	ch   chan Message
	done chan struct{}
	// PublishWaitで送信中の数。解除時はこれが0になってからchを閉じる
	inflight sync.WaitGroup
}

type simplePubSub struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[<-chan Message]*subscriber
}

var _ PubSub = (*simplePubSub)(nil)

func NewSimplePubSub() PubSub {
	return &simplePubSub{
		subscribers: make(map[Topic]map[<-chan Message]*subscriber),
	}
}

func (p *simplePubSub) Publish(ctx context.Context, topic Topic, msg Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, sub := range p.subscribers[topic] {
		select {
		case sub.ch <- msg:
		default:
			slog.WarnContext(ctx, "pubsub: subscriber full, message dropped", "topic", topic)
		}
	}
}

func (p *simplePubSub) PublishWait(ctx context.Context, topic Topic, msg Message) error {
	p.mu.RLock()
	subs := make([]*subscriber, 0, len(p.subscribers[topic]))
	for _, sub := range p.subscribers[topic] {
		sub.inflight.Add(1)
		subs = append(subs, sub)
	}
	p.mu.RUnlock()

	var err error
	for _, sub := range subs {
		if err == nil {
			select {
			case sub.ch <- msg:
			case <-sub.done:
			case <-ctx.Done():
				err = fmt.Errorf("pubsub: publish to %s: %w", topic, ctx.Err())
			}
		}
		sub.inflight.Done()
	}
	return err
}

func (p *simplePubSub) Subscribe(topic Topic) <-chan Message {
	sub := &subscriber{
		ch:   make(chan Message, subscriberBufferSize),
		done: make(chan struct{}),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.subscribers[topic]
	if !ok {
		subs = make(map[<-chan Message]*subscriber)
		p.subscribers[topic] = subs
	}
	subs[sub.ch] = sub
	return sub.ch
}

// Unsubscribe は購読を解除し、チャネルを閉じます。
func (p *simplePubSub) Unsubscribe(topic Topic, ch <-chan Message) {
	p.mu.Lock()
	subs, ok := p.subscribers[topic]
	if !ok {
		p.mu.Unlock()
		return
	}
	sub, ok := subs[ch]
	if ok {
		delete(subs, ch)
	}
	if len(subs) == 0 {
		delete(p.subscribers, topic)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	close(sub.done)
	sub.inflight.Wait()
	close(sub.ch)
}
