package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
)

func TestWebhookSenderPostsPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	user := subscription.User{WalletAddress: "0xaa", NotificationURL: srv.URL, NotificationToken: "tok-1"}
	sender := NewWebhookSender(0)
	require.True(t, sender.CanReach(user))

	err := sender.Send(context.Background(), user, Message{Title: "Reminder", Body: "expires soon", TargetURL: "https://app/premium"})
	require.NoError(t, err)
	assert.NotEmpty(t, got.NotificationID)
	assert.Equal(t, "Reminder", got.Title)
	assert.Equal(t, "https://app/premium", got.TargetURL)
	assert.Equal(t, []string{"tok-1"}, got.Tokens)
}

func TestWebhookSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	user := subscription.User{NotificationURL: srv.URL, NotificationToken: "tok"}
	err := NewWebhookSender(0).Send(context.Background(), user, Message{Title: "x"})
	assert.Error(t, err)

	err = NewWebhookSender(0).Send(context.Background(), subscription.User{}, Message{})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

type fakeMailClient struct {
	sent   []*mail.SGMailV3
	status int
}

func (f *fakeMailClient) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	return &rest.Response{StatusCode: f.status}, nil
}

func TestEmailSender(t *testing.T) {
	assert.Nil(t, NewEmailSender("", "n", "a@b.c"))

	client := &fakeMailClient{status: http.StatusAccepted}
	sender := &EmailSender{client: client, fromName: "Subscriptions", fromAddr: "noreply@example.org"}
	user := subscription.User{Email: "user@example.org"}

	require.NoError(t, sender.Send(context.Background(), user, Message{Title: "Expired", Body: "downgraded"}))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "Expired", client.sent[0].Subject)

	client.status = http.StatusUnauthorized
	assert.Error(t, sender.Send(context.Background(), user, Message{Title: "Expired"}))
}

type countingSender struct {
	reach func(subscription.User) bool
	fail  bool
	calls atomic.Int32
}

func (c *countingSender) CanReach(u subscription.User) bool { return c.reach(u) }

func (c *countingSender) Send(context.Context, subscription.User, Message) error {
	c.calls.Add(1)
	if c.fail {
		return errors.New("boom")
	}
	return nil
}

func TestDispatcherPrefersFirstReachableSender(t *testing.T) {
	webhook := &countingSender{reach: func(u subscription.User) bool { return u.NotificationURL != "" }}
	email := &countingSender{reach: func(u subscription.User) bool { return u.Email != "" }}
	d := NewDispatcher(nil, webhook, email)

	both := subscription.User{NotificationURL: "http://x", Email: "a@b.c"}
	require.NoError(t, d.Send(context.Background(), both, Message{}))
	assert.Equal(t, int32(1), webhook.calls.Load())
	assert.Equal(t, int32(0), email.calls.Load())

	require.NoError(t, d.Send(context.Background(), subscription.User{Email: "a@b.c"}, Message{}))
	assert.Equal(t, int32(1), email.calls.Load())

	assert.False(t, d.CanReach(subscription.User{}))
	assert.ErrorIs(t, d.Send(context.Background(), subscription.User{}, Message{}), ErrNoEndpoint)
}

func TestBroadcastCountsOutcomes(t *testing.T) {
	ok := &countingSender{reach: func(u subscription.User) bool { return u.NotificationURL == "ok" }}
	bad := &countingSender{reach: func(u subscription.User) bool { return u.NotificationURL == "bad" }, fail: true}
	d := NewDispatcher(nil, ok, bad)

	users := []subscription.User{
		{NotificationURL: "ok"}, {NotificationURL: "ok"}, {NotificationURL: "bad"}, {},
	}
	result := d.Broadcast(context.Background(), users, Message{Title: "hello"}, 2)
	assert.Equal(t, BroadcastResult{Sent: 2, Failed: 1}, result)
}

type stallingSender struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (s *stallingSender) CanReach(u subscription.User) bool { return u.NotificationURL != "" }

func (s *stallingSender) Send(context.Context, subscription.User, Message) error {
	if s.calls.Add(1) == 1 {
		close(s.started)
	}
	<-s.release
	return nil
}

func TestBroadcastStopsQueueingOnCancel(t *testing.T) {
	sender := &stallingSender{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(nil, sender)
	users := []subscription.User{{NotificationURL: "a"}, {NotificationURL: "b"}, {}, {NotificationURL: "c"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan BroadcastResult, 1)
	go func() { done <- d.Broadcast(ctx, users, Message{Title: "hello"}, 1) }()

	<-sender.started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(sender.release)

	select {
	case result := <-done:
		assert.Equal(t, BroadcastResult{Sent: 1, Failed: 2}, result)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast did not return after cancel")
	}
	assert.Equal(t, int32(1), sender.calls.Load())
}
