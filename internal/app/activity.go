package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

const activityFeedSize = 50

// record appends an activity entry and pushes the refreshed feed to the
// board's room. The mutation it describes has already committed, so a failed
// insert is logged rather than returned.
func (s *Service) record(ctx context.Context, boardID, userID, action, detail string) {
	entry := store.Activity{
		ID:      util.NewID("act"),
		BoardID: boardID,
		UserID:  userID,
		Action:  action,
		Detail:  detail,
	}
	if _, err := s.store.InsertActivity(ctx, entry); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"board_id": boardID,
			"action":   action,
		}).Error("record activity")
		return
	}

	room := realtime.RoomForBoard(boardID)
	s.hooks.Dispatch(realtime.EventActivityUpdated, func(ctx context.Context) error {
		entries, err := s.store.ListActivities(ctx, boardID, activityFeedSize)
		if err != nil {
			return fmt.Errorf("load activity feed: %w", err)
		}
		s.emitter.EmitToRoom(room, realtime.EventActivityUpdated, map[string]any{"activity": activityViews(entries)})
		return nil
	})
}

// ListActivities returns the newest entries of a board the caller can read.
func (s *Service) ListActivities(ctx context.Context, boardID, userID string) ([]ActivityView, error) {
	if _, err := s.boardFor(ctx, boardID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	entries, err := s.store.ListActivities(ctx, boardID, activityFeedSize)
	if err != nil {
		return nil, err
	}
	return activityViews(entries), nil
}

func activityViews(entries []store.Activity) []ActivityView {
	out := make([]ActivityView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, activityView(entry))
	}
	return out
}
