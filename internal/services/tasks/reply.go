package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/services/pacing"
)

const (
	threadSettle   = 2 * time.Second
	composeTimeout = 15 * time.Second
	focusSettle    = 500 * time.Millisecond
	sendTimeout    = 10 * time.Second
	notClearedWarn = "Message may not have been sent - input not cleared"
)

var beforeSend = pacing.Between(time.Second, 3*time.Second)

// Replier answers message threads
type Replier struct {
	executor
}

func NewReplier(env Env) *Replier {
	return &Replier{executor: newExecutor(env, models.KindReply)}
}

// Send types payload.Message into the thread and sends it
func (r *Replier) Send(ctx context.Context, account models.Account, payload models.ReplyPayload) (*models.ReplyResult, error) {
	threads := r.Records.Threads()
	botID := account.BotID()

	if payload.JobID != "" {
		thread, err := threads.GetThread(ctx, botID, payload.ThreadID)
		if err != nil {
			return nil, err
		}
		if thread != nil && thread.LastReplyJobID == payload.JobID {
			r.Logger.Info().Str("thread", payload.ThreadID).Str("job_id", payload.JobID).Msg("Reply already sent by this job, skipping")
			return &models.ReplyResult{
				Success:     true,
				ThreadID:    payload.ThreadID,
				Message:     truncate(payload.Message, resultPrefix),
				MessageSent: true,
				Skipped:     true,
				Timestamp:   r.Now(),
			}, nil
		}
	}

	if err := r.Pacer.Before(ctx, models.KindReply); err != nil {
		return nil, err
	}
	session, err := r.Sessions.AcquireSession(ctx, account)
	if err != nil {
		return nil, err
	}
	defer r.closeSession(session)

	sent, err := r.reply(ctx, session, payload)
	if err != nil {
		if models.IsClientError(err) {
			return nil, err
		}
		return nil, r.fail(ctx, session, payload.ThreadID, err)
	}

	result := &models.ReplyResult{
		Success:     true,
		ThreadID:    payload.ThreadID,
		Message:     truncate(payload.Message, resultPrefix),
		MessageSent: sent,
		Timestamp:   r.Now(),
	}
	if !sent {
		result.Warning = notClearedWarn
		r.Logger.Warn().Str("thread", payload.ThreadID).Msg(notClearedWarn)
	}

	if payload.JobID != "" {
		if _, err := threads.MarkReplied(context.WithoutCancel(ctx), botID, payload.ThreadID, payload.JobID); err != nil {
			r.Logger.Error().Err(err).Str("thread", payload.ThreadID).Msg("Failed to record reply on thread")
		}
	}

	r.Logger.Info().Str("thread", payload.ThreadID).Bool("confirmed", sent).Msg("Reply sent")
	return result, nil
}

// reply reports whether the composer emptied after sending
func (r *Replier) reply(ctx context.Context, session interfaces.BrowserSession, payload models.ReplyPayload) (bool, error) {
	target := payload.ThreadID
	if err := r.navigate(ctx, session, fmt.Sprintf(threadURLFormat, payload.ThreadID), interfaces.WaitLoad, threadSettle); err != nil {
		return false, err
	}

	compose, err := session.WaitFor(ctx, composeBox, composeTimeout)
	if err != nil {
		return false, err
	}
	if compose == nil {
		return false, models.NewTaskError(models.ErrElementNotFound, target, "message input not found", nil)
	}
	if err := compose.Click(ctx); err != nil {
		return false, err
	}
	if err := r.Pacer.Settle(ctx, focusSettle); err != nil {
		return false, err
	}
	if err := r.Typist.TypeText(ctx, session, payload.Message); err != nil {
		return false, err
	}
	if err := r.Pacer.SettleBetween(ctx, beforeSend); err != nil {
		return false, err
	}

	send, err := session.WaitFor(ctx, composeSendButton, sendTimeout)
	if err != nil {
		return false, err
	}
	if err := requireEnabled(ctx, send, composeSendButton, target, "Send button is disabled - message may be empty"); err != nil {
		return false, err
	}
	if err := send.Click(ctx); err != nil {
		return false, err
	}

	// Once clicked the message may be out, so nothing past here fails the job
	if err := r.Pacer.Settle(ctx, threadSettle); err != nil {
		r.Logger.Warn().Err(err).Str("thread", target).Msg("Interrupted while confirming reply")
		return false, nil
	}
	remaining, err := session.Text(ctx, composeBox)
	if err != nil {
		r.Logger.Warn().Err(err).Str("thread", target).Msg("Could not read composer after sending")
		return false, nil
	}
	return strings.TrimSpace(remaining) == "", nil
}
