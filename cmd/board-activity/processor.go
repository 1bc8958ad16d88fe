package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// maxDequeueCount is how often a message may be delivered before it is
// dropped as poison.
const maxDequeueCount = 5

type messageQueue interface {
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

type activityLog interface {
	Append(ctx context.Context, ev domain.BoardEvent) (bool, error)
}

var errInvalidEvent = errors.New("invalid board event")

type processor struct {
	queue      messageQueue
	activity   activityLog
	logger     *log.Logger
	visibility time.Duration
	idle       time.Duration
}

// run consumes the queue until ctx is done.
func (p *processor) run(ctx context.Context) {
	for ctx.Err() == nil {
		handled, err := p.poll(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Errorf("receive: %v", err)
		}
		if !handled {
			select {
			case <-ctx.Done():
			case <-time.After(p.idle):
			}
		}
	}
}

// poll handles at most one message and reports whether one was received.
func (p *processor) poll(ctx context.Context) (bool, error) {
	resp, err := p.queue.DequeueMessage(ctx, &azqueue.DequeueMessageOptions{
		VisibilityTimeout: to.Ptr(int32(p.visibility / time.Second)),
	})
	if err != nil {
		return false, err
	}
	if len(resp.Messages) == 0 {
		return false, nil
	}
	msg := resp.Messages[0]
	if msg.MessageID == nil || msg.PopReceipt == nil {
		return true, nil
	}
	entry := p.logger.WithField("message", *msg.MessageID)
	err = p.handle(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, errInvalidEvent):
		entry.Warnf("dropping message: %v", err)
	case msg.DequeueCount != nil && *msg.DequeueCount >= maxDequeueCount:
		entry.WithField("dequeueCount", *msg.DequeueCount).Errorf("dropping poison message: %v", err)
	default:
		// Left on the queue; it becomes visible again after the timeout.
		entry.Warnf("apply event: %v", err)
		return true, nil
	}
	if _, err := p.queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
		entry.Errorf("delete message: %v", err)
	}
	return true, nil
}

func (p *processor) handle(ctx context.Context, msg *azqueue.DequeuedMessage) error {
	if msg.MessageText == nil {
		return errInvalidEvent
	}
	var ev domain.BoardEvent
	if err := sonic.UnmarshalString(*msg.MessageText, &ev); err != nil {
		return errors.Join(errInvalidEvent, err)
	}
	if ev.BoardID == "" || ev.Type == "" {
		return errInvalidEvent
	}
	added, err := p.activity.Append(ctx, ev)
	if err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{
		"board":   ev.BoardID,
		"type":    ev.Type,
		"version": ev.Version,
		"added":   added,
	}).Debug("event applied")
	return nil
}
