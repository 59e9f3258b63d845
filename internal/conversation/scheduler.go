package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-ai/leadline/internal/models"
)

// scheduledJoin tracks one armed auto-join timer so it can be canceled on
// teardown instead of outliving its meeting.
type scheduledJoin struct {
	roomID string
	cancel context.CancelFunc
}

// ScheduleAutoJoin arms a one-shot timer that joins the agent into the
// meeting's room at or after the scheduled time. A previously armed timer
// for the same meeting is replaced.
func (o *Orchestrator) ScheduleAutoJoin(meetingID uuid.UUID, scheduledTime time.Time, roomID string, lead *models.Lead) {
	ctx, cancel := context.WithCancel(o.baseCtx)

	o.mu.Lock()
	if prev, ok := o.joins[meetingID]; ok {
		prev.cancel()
	}
	o.joins[meetingID] = &scheduledJoin{roomID: roomID, cancel: cancel}
	o.mu.Unlock()

	o.logger.Info().Str("meeting_id", meetingID.String()).Str("room_id", roomID).
		Time("scheduled_time", scheduledTime).Msg("agent auto-join scheduled")

	go func() {
		defer func() {
			o.mu.Lock()
			if cur, ok := o.joins[meetingID]; ok && cur.roomID == roomID {
				delete(o.joins, meetingID)
			}
			o.mu.Unlock()
		}()

		if wait := time.Until(scheduledTime); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}
		if err := o.JoinMeeting(ctx, meetingID, roomID, lead); err != nil {
			o.logger.Warn().Err(err).Str("meeting_id", meetingID.String()).Msg("scheduled auto-join failed")
		}
	}()
}

// CancelAutoJoin disarms a pending auto-join, if any.
func (o *Orchestrator) CancelAutoJoin(meetingID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j, ok := o.joins[meetingID]; ok {
		j.cancel()
		delete(o.joins, meetingID)
	}
}

// AnnouncePendingJoin tells a room with a pending agent join that the
// assistant will arrive shortly. Wired to the registry's first-human hook.
func (o *Orchestrator) AnnouncePendingJoin(roomID string) {
	o.mu.Lock()
	pending := false
	for _, j := range o.joins {
		if j.roomID == roomID {
			pending = true
			break
		}
	}
	o.mu.Unlock()
	if !pending {
		return
	}
	o.registry.Broadcast(roomID, &models.Envelope{
		Type:     models.TypeMeetingStatus,
		FromUser: "system",
		Text:     "AI assistant will join shortly...",
	}, "")
}

// waitForHumans polls until a human participant is present, bounded by
// JoinWaitBound. Returns false when the bound elapses or ctx is canceled.
func (o *Orchestrator) waitForHumans(ctx context.Context, roomID string) bool {
	deadline := time.Now().Add(o.opts.JoinWaitBound)
	for {
		if o.registry.HasHumans(roomID) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-time.After(o.opts.JoinPollInterval):
		case <-ctx.Done():
			return false
		}
	}
}
