package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"questioner_bot/internal/domain/question"
	domainTelegram "questioner_bot/internal/domain/telegram"
	idb "questioner_bot/internal/infra/database"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultDeleteDelay      = 60 * time.Second
	DefaultRemoveTopicDelay = 30 * time.Second
)

type deleteMessagesArgs struct {
	ChatID     int64 `json:"chat_id"`
	MessageIDs []int `json:"message_ids"`
}

type removeTopicArgs struct {
	Token   string `json:"token"`
	GroupID int64  `json:"group_id"`
	TopicID int    `json:"topic_id"`
}

// CleanupService schedules fire-and-forget cleanup: deleting bot messages,
// removing cancelled topics and purging old questions.
type CleanupService struct {
	questions        question.Repository
	pairs            question.PairRepository
	telegramClient   domainTelegram.Client
	scheduler        JobScheduler
	logger           *logrus.Entry
	deleteDelay      time.Duration
	removeTopicDelay time.Duration
	retention        time.Duration
}

func NewCleanupService(
	qr question.Repository,
	pr question.PairRepository,
	tc domainTelegram.Client,
	scheduler JobScheduler,
	logger *logrus.Entry,
	deleteDelay, removeTopicDelay time.Duration,
	retentionDays int,
) *CleanupService {
	if deleteDelay <= 0 {
		deleteDelay = DefaultDeleteDelay
	}
	if removeTopicDelay <= 0 {
		removeTopicDelay = DefaultRemoveTopicDelay
	}
	s := &CleanupService{
		questions:        qr,
		pairs:            pr,
		telegramClient:   tc,
		scheduler:        scheduler,
		logger:           logger,
		deleteDelay:      deleteDelay,
		removeTopicDelay: removeTopicDelay,
		retention:        time.Duration(retentionDays) * 24 * time.Hour,
	}
	scheduler.Register(HandlerDeleteMessages, s.deleteMessagesJob)
	scheduler.Register(HandlerRemoveTopic, s.removeTopicJob)
	return s
}

// RunDeleteTimer deletes the given messages after delay. A non-positive delay uses the default.
func (s *CleanupService) RunDeleteTimer(ctx context.Context, chatID int64, messageIDs []int, delay time.Duration) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if delay <= 0 {
		delay = s.deleteDelay
	}
	id := "delete_" + uuid.NewString()
	args := deleteMessagesArgs{ChatID: chatID, MessageIDs: messageIDs}
	if err := s.scheduler.ScheduleOnce(ctx, id, s.scheduler.Now().Add(delay), HandlerDeleteMessages, args); err != nil {
		return fmt.Errorf("failed to schedule message deletion: %w", err)
	}
	return nil
}

func (s *CleanupService) deleteMessagesJob(_ context.Context, raw json.RawMessage) error {
	var args deleteMessagesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("failed to decode job args: %w", err)
	}
	log := s.logger.WithFields(logrus.Fields{"job_kind": HandlerDeleteMessages, "chat_id": args.ChatID})
	for _, id := range args.MessageIDs {
		if err := s.telegramClient.DeleteMessage(args.ChatID, id); err != nil {
			log.WithError(err).WithField("message_id", id).Warn("Failed to delete message")
		}
	}
	return nil
}

// RemoveQuestionTimer deletes the question's topic after the removal delay.
func (s *CleanupService) RemoveQuestionTimer(ctx context.Context, q *question.Question) error {
	args := removeTopicArgs{Token: q.Token, GroupID: q.GroupID, TopicID: q.TopicID}
	runAt := s.scheduler.Now().Add(s.removeTopicDelay)
	if err := s.scheduler.ScheduleOnce(ctx, removeJobID(q.Token), runAt, HandlerRemoveTopic, args); err != nil {
		return fmt.Errorf("failed to schedule topic removal: %w", err)
	}
	return nil
}

func (s *CleanupService) removeTopicJob(_ context.Context, raw json.RawMessage) error {
	var args removeTopicArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("failed to decode job args: %w", err)
	}
	log := s.logger.WithFields(logrus.Fields{"job_kind": HandlerRemoveTopic, "token": args.Token, "topic_id": args.TopicID})
	if err := s.telegramClient.DeleteTopic(args.GroupID, args.TopicID); err != nil {
		log.WithError(err).Error("Failed to delete topic")
		return nil
	}
	log.Info("Topic removed")
	return nil
}

// PurgeOldQuestions deletes questions started before the retention window together
// with their topics, then drops message pairs older than the window.
func (s *CleanupService) PurgeOldQuestions(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := s.scheduler.Now().Add(-s.retention)
	old, err := s.questions.ListStartedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list old questions: %w", err)
	}

	deleted := 0
	for _, q := range old {
		log := s.logger.WithFields(logrus.Fields{"token": q.Token, "topic_id": q.TopicID})
		if err := s.questions.Delete(ctx, q.Token); err != nil && !errors.Is(err, idb.ErrQuestionNotFound) {
			log.WithError(err).Error("Failed to delete old question")
			continue
		}
		deleted++
		if err := s.telegramClient.DeleteTopic(q.GroupID, q.TopicID); err != nil {
			log.WithError(err).Warn("Failed to delete old topic")
		}
	}
	pairs, err := s.pairs.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Failed to delete old message pairs")
	}
	s.logger.WithFields(logrus.Fields{
		"deleted": deleted,
		"total":   len(old),
		"pairs":   pairs,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("Old questions purged")
	return nil
}
