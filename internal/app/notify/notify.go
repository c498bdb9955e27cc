// Package notify delivers reminders and announcements to wallet owners.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

// ErrNoEndpoint is returned when a user has no reachable channel.
var ErrNoEndpoint = errors.New("notify: user has no notification endpoint")

// Message is a channel-agnostic notification.
type Message struct {
	Title     string
	Body      string
	TargetURL string
}

// Sender delivers a message over one channel.
type Sender interface {
	CanReach(user subscription.User) bool
	Send(ctx context.Context, user subscription.User, msg Message) error
}

// Dispatcher prefers the mini-app webhook and falls back to email.
type Dispatcher struct {
	senders []Sender
	log     *logger.Logger
}

// NewDispatcher tries senders in order. Nil senders are ignored.
func NewDispatcher(log *logger.Logger, senders ...Sender) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	d := &Dispatcher{log: log}
	for _, s := range senders {
		if s != nil {
			d.senders = append(d.senders, s)
		}
	}
	return d
}

func (d *Dispatcher) CanReach(user subscription.User) bool {
	return d.pick(user) != nil
}

func (d *Dispatcher) Send(ctx context.Context, user subscription.User, msg Message) error {
	s := d.pick(user)
	if s == nil {
		return ErrNoEndpoint
	}
	if err := s.Send(ctx, user, msg); err != nil {
		d.log.WithError(err).WithField("wallet_address", user.WalletAddress).Warn("notification delivery failed")
		return err
	}
	return nil
}

func (d *Dispatcher) pick(user subscription.User) Sender {
	for _, s := range d.senders {
		if s.CanReach(user) {
			return s
		}
	}
	return nil
}

// BroadcastResult counts deliveries of one broadcast.
type BroadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Broadcast sends msg to every user with a reachable channel, at most
// concurrency deliveries at a time. Once ctx is done no further deliveries
// are queued and the users left over count as failed.
func (d *Dispatcher) Broadcast(ctx context.Context, users []subscription.User, msg Message, concurrency int) BroadcastResult {
	if concurrency <= 0 {
		concurrency = 8
	}
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result BroadcastResult
	)
	sem := make(chan struct{}, concurrency)
queue:
	for i, user := range users {
		if !d.CanReach(user) {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			mu.Lock()
			for _, left := range users[i:] {
				if d.CanReach(left) {
					result.Failed++
				}
			}
			mu.Unlock()
			break queue
		}
		wg.Add(1)
		go func(user subscription.User) {
			defer wg.Done()
			defer func() { <-sem }()
			err := d.Send(ctx, user, msg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				return
			}
			result.Sent++
		}(user)
	}
	wg.Wait()
	d.log.WithField("sent", result.Sent).WithField("failed", result.Failed).Info("broadcast finished")
	return result
}
