// Package lifecycle expires lapsed subscriptions and sends pre-expiry reminders.
package lifecycle

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/metrics"
	"github.com/R3E-Network/subscription_layer/internal/app/notify"
	"github.com/R3E-Network/subscription_layer/internal/app/storage"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

// Report summarises one sweep. Errors never abort a sweep; they are listed here.
type Report struct {
	Reminders3d int       `json:"reminders_3d"`
	Reminders1d int       `json:"reminders_1d"`
	Expired     int       `json:"expired"`
	Errors      []string  `json:"errors"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

func (r *Report) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Reconciler drives subscriptions through active -> expired.
type Reconciler struct {
	users     storage.UserStore
	subs      storage.SubscriptionStore
	sender    notify.Sender
	plans     tier.Catalogue
	publicURL string
	log       *logger.Logger
	now       func() time.Time
}

// Config holds reconciler settings.
type Config struct {
	// PublicURL is linked from notifications as the renewal page root.
	PublicURL string
}

// New creates a reconciler. sender may be nil, in which case nothing is sent
// and reminders are never stamped.
func New(users storage.UserStore, subs storage.SubscriptionStore, sender notify.Sender, plans tier.Catalogue, cfg Config, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("lifecycle")
	}
	return &Reconciler{
		users:     users,
		subs:      subs,
		sender:    sender,
		plans:     plans,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs the 3-day reminder, 1-day reminder and expiry passes in order.
// Each pass is independent. Overlapping sweeps are safe: every send is
// preceded by a conditional claim in the store.
func (r *Reconciler) Sweep(ctx context.Context) Report {
	now := r.now()
	report := Report{StartedAt: now, Errors: []string{}}

	report.Reminders3d = r.remind(ctx, subscription.Reminder3d, now, &report)
	report.Reminders1d = r.remind(ctx, subscription.Reminder1d, now, &report)
	report.Expired = r.expireLapsed(ctx, now, &report)

	report.FinishedAt = r.now()
	metrics.RecordSweep(report.Reminders3d, report.Reminders1d, report.Expired, len(report.Errors), report.FinishedAt.Sub(report.StartedAt))

	entry := r.log.WithField("reminders_3d", report.Reminders3d).
		WithField("reminders_1d", report.Reminders1d).
		WithField("expired", report.Expired).
		WithField("errors", len(report.Errors))
	if len(report.Errors) > 0 {
		entry.Warn("lifecycle sweep finished with errors")
	} else {
		entry.Info("lifecycle sweep finished")
	}
	return report
}

func (r *Reconciler) remind(ctx context.Context, kind subscription.ReminderKind, now time.Time, report *Report) int {
	due, err := r.subs.ListExpiringSubscriptions(ctx, kind, now, now.Add(kind.LeadTime()))
	if err != nil {
		report.fail("%s reminders: %v", kind, err)
		return 0
	}

	sent := 0
	for _, sub := range due {
		user, ok := r.reachableUser(ctx, sub.WalletAddress, report)
		if !ok {
			continue
		}
		claimed, err := r.subs.MarkReminderSent(ctx, sub.ID, kind, now)
		if err != nil {
			report.fail("%s reminder for %s: %v", kind, sub.WalletAddress, err)
			continue
		}
		if !claimed {
			continue
		}
		if err := r.sender.Send(ctx, user, r.reminderMessage(sub, kind)); err != nil {
			report.fail("%s notification for %s: %v", kind, sub.WalletAddress, err)
			if clearErr := r.subs.ClearReminder(ctx, sub.ID, kind); clearErr != nil {
				r.log.WithError(clearErr).WithField("subscription_id", sub.ID).Error("release reminder claim failed")
			}
			continue
		}
		sent++
	}
	return sent
}

func (r *Reconciler) expireLapsed(ctx context.Context, now time.Time, report *Report) int {
	lapsed, err := r.subs.ListLapsedSubscriptions(ctx, now)
	if err != nil {
		report.fail("expiry: %v", err)
		return 0
	}

	expired := 0
	for _, sub := range lapsed {
		done, err := r.subs.MarkSubscriptionExpired(ctx, sub.ID, now)
		if err != nil {
			report.fail("expire %s: %v", sub.ID, err)
			continue
		}
		if !done {
			continue
		}
		expired++

		user, ok := r.reachableUser(ctx, sub.WalletAddress, report)
		if !ok {
			continue
		}
		if err := r.sender.Send(ctx, user, r.expiryMessage(sub)); err != nil {
			report.fail("expiry notification for %s: %v", sub.WalletAddress, err)
		}
	}
	return expired
}

// Expire moves a lapsed active subscription to expired without notifying.
// It reports whether this call performed the transition.
func (r *Reconciler) Expire(ctx context.Context, sub subscription.Subscription) (bool, error) {
	done, err := r.subs.MarkSubscriptionExpired(ctx, sub.ID, r.now())
	if err != nil {
		return false, fmt.Errorf("expire subscription %s: %w", sub.ID, err)
	}
	if done {
		r.log.WithField("subscription_id", sub.ID).WithField("wallet_address", sub.WalletAddress).Info("subscription expired on read")
	}
	return done, nil
}

func (r *Reconciler) reachableUser(ctx context.Context, wallet string, report *Report) (subscription.User, bool) {
	if r.sender == nil {
		return subscription.User{}, false
	}
	user, err := r.users.GetUser(ctx, wallet)
	if stderrors.Is(err, storage.ErrNotFound) {
		return subscription.User{}, false
	}
	if err != nil {
		report.fail("load user %s: %v", wallet, err)
		return subscription.User{}, false
	}
	return user, r.sender.CanReach(user)
}

func (r *Reconciler) planName(t tier.Tier) string {
	if p, ok := r.plans.Plan(t); ok && p.Name != "" {
		return p.Name
	}
	return string(t)
}

func (r *Reconciler) renewURL() string {
	return r.publicURL + "/premium"
}

func (r *Reconciler) reminderMessage(sub subscription.Subscription, kind subscription.ReminderKind) notify.Message {
	when := "in 3 days"
	if kind == subscription.Reminder1d {
		when = "tomorrow"
	}
	return notify.Message{
		Title:     "Subscription reminder",
		Body:      fmt.Sprintf("Your %s subscription expires %s. Renew now to keep your benefits.", r.planName(sub.Tier), when),
		TargetURL: r.renewURL(),
	}
}

func (r *Reconciler) expiryMessage(sub subscription.Subscription) notify.Message {
	return notify.Message{
		Title:     "Subscription expired",
		Body:      fmt.Sprintf("Your %s subscription has expired and your account is now on the free tier.", r.planName(sub.Tier)),
		TargetURL: r.renewURL(),
	}
}
