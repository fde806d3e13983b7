// Package deadline periodically warns card members and board owners about
// cards that fall due within the next window. Each card is warned at most
// once, ever: the claim is keyed by card and alert type and is not reset when
// the deadline changes. A claim whose notifications all failed is released so
// a later scan retries it.
package deadline

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/store"
)

type Store interface {
	ListCardsDueBetween(ctx context.Context, from, to time.Time) ([]store.DueCard, error)
	ClaimDeadlineAlert(ctx context.Context, cardID, alertType string) (bool, error)
	ReleaseDeadlineAlert(ctx context.Context, cardID, alertType string) error
}

// Notifier persists a notification and pushes it to the recipient.
type Notifier interface {
	Notify(ctx context.Context, n store.Notification) error
}

type Scanner struct {
	store    Store
	notifier Notifier
	interval time.Duration
	window   time.Duration
	now      func() time.Time
}

func NewScanner(s Store, notifier Notifier, interval, window time.Duration) *Scanner {
	if interval <= 0 {
		interval = time.Hour
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Scanner{
		store:    s,
		notifier: notifier,
		interval: interval,
		window:   window,
		now:      time.Now,
	}
}

// Run scans once immediately and then on every tick until ctx is done. A
// failed cycle is logged and the next one runs on schedule.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scanner) cycle(ctx context.Context) {
	sent, err := s.ScanOnce(ctx, s.now())
	if err != nil {
		log.WithError(err).Error("deadline scan failed")
		return
	}
	if sent > 0 {
		log.WithField("notifications", sent).Info("deadline scan sent notifications")
	}
}

// ScanOnce warns about every undone card due in [now, now+window) that has
// not been claimed yet. It returns the number of notifications sent.
func (s *Scanner) ScanOnce(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListCardsDueBetween(ctx, now, now.Add(s.window))
	if err != nil {
		return 0, fmt.Errorf("list due cards: %w", err)
	}

	sent := 0
	for _, card := range due {
		claimed, err := s.store.ClaimDeadlineAlert(ctx, card.ID, store.NotifyDeadlineSoon)
		if err != nil {
			return sent, fmt.Errorf("claim alert for %s: %w", card.ID, err)
		}
		if !claimed {
			continue
		}
		delivered := 0
		for _, n := range notificationsFor(card) {
			if err := s.notifier.Notify(ctx, n); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"card_id":   card.ID,
					"recipient": n.RecipientID,
				}).Warn("deadline notification failed")
				continue
			}
			delivered++
		}
		if delivered == 0 {
			if err := s.store.ReleaseDeadlineAlert(ctx, card.ID, store.NotifyDeadlineSoon); err != nil {
				return sent, fmt.Errorf("release alert for %s: %w", card.ID, err)
			}
		}
		sent += delivered
	}
	return sent, nil
}

// notificationsFor builds one notification per assigned member and one for
// the board owner. An owner who is also assigned receives both.
func notificationsFor(card store.DueCard) []store.Notification {
	when := card.Deadline.Format(time.RFC1123)
	seen := make(map[string]bool, len(card.Members))
	out := make([]store.Notification, 0, len(card.Members)+1)
	for _, member := range card.Members {
		if seen[member] {
			continue
		}
		seen[member] = true
		out = append(out, store.Notification{
			RecipientID: member,
			BoardID:     card.BoardID,
			CardID:      card.ID,
			Type:        store.NotifyDeadlineSoon,
			Message:     fmt.Sprintf("Card %q is due at %s.", card.Title, when),
		})
	}
	if card.OwnerID != "" {
		out = append(out, store.Notification{
			RecipientID: card.OwnerID,
			BoardID:     card.BoardID,
			CardID:      card.ID,
			Type:        store.NotifyDeadlineSoon,
			Message:     fmt.Sprintf("Card %q assigned to members is due at %s.", card.Title, when),
		})
	}
	return out
}
