// Package notifications manages user notification endpoints and operator
// broadcasts.
package notifications

import (
	"context"
	"net/mail"
	"net/url"
	"strings"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/notify"
	"github.com/R3E-Network/subscription_layer/internal/app/storage"
	"github.com/R3E-Network/subscription_layer/internal/errors"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

const broadcastConcurrency = 8

var (
	ErrInvalidURL   = errors.Validation("INVALID_NOTIFICATION_URL", "notification url must be an absolute http(s) url")
	ErrMissingToken = errors.Validation("MISSING_NOTIFICATION_TOKEN", "notification token is required with a url")
	ErrInvalidEmail = errors.Validation("INVALID_EMAIL", "malformed email address")
	ErrEmptyMessage = errors.Validation("EMPTY_MESSAGE", "title and body are required")
)

// Broadcaster fans a message out to many users.
type Broadcaster interface {
	Broadcast(ctx context.Context, users []subscription.User, msg notify.Message, concurrency int) notify.BroadcastResult
}

// Service owns the notification settings of users.
type Service struct {
	users       storage.UserStore
	broadcaster Broadcaster
	log         *logger.Logger
}

func New(users storage.UserStore, broadcaster Broadcaster, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &Service{users: users, broadcaster: broadcaster, log: log}
}

// SetEndpoint records where wallet wants to be notified. Empty values clear
// the corresponding channel.
func (s *Service) SetEndpoint(ctx context.Context, wallet, rawURL, token, email string) (subscription.User, error) {
	wallet, err := subscription.NormalizeWallet(wallet)
	if err != nil {
		return subscription.User{}, err
	}
	rawURL = strings.TrimSpace(rawURL)
	token = strings.TrimSpace(token)
	email = strings.TrimSpace(email)

	if rawURL != "" {
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return subscription.User{}, ErrInvalidURL
		}
		if token == "" {
			return subscription.User{}, ErrMissingToken
		}
	}
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return subscription.User{}, ErrInvalidEmail
		}
		email = addr.Address
	}

	user, err := s.users.SetNotificationEndpoint(ctx, wallet, rawURL, token, email)
	if err != nil {
		return subscription.User{}, storage.Unavailable(err)
	}
	s.log.WithField("wallet_address", wallet).Info("notification endpoint updated")
	return user, nil
}

// Broadcast sends an announcement to every user with a notification channel.
func (s *Service) Broadcast(ctx context.Context, title, body, targetURL string) (notify.BroadcastResult, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" || body == "" {
		return notify.BroadcastResult{}, ErrEmptyMessage
	}
	users, err := s.users.ListNotifiableUsers(ctx)
	if err != nil {
		return notify.BroadcastResult{}, storage.Unavailable(err)
	}
	msg := notify.Message{Title: title, Body: body, TargetURL: targetURL}
	return s.broadcaster.Broadcast(ctx, users, msg, broadcastConcurrency), nil
}
