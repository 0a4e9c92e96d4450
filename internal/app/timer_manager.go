package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"questioner_bot/internal/domain/job"
	"questioner_bot/internal/domain/question"
	"questioner_bot/internal/domain/settings"
	domainTelegram "questioner_bot/internal/domain/telegram"
	idb "questioner_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Handler names stored with scheduled jobs.
const (
	HandlerInactivityWarning = "inactivity_warning"
	HandlerInactivityClose   = "inactivity_close"
	HandlerAttentionReminder = "attention_reminder"
	HandlerDeleteMessages    = "delete_messages"
	HandlerRemoveTopic       = "remove_topic"
)

const DefaultAttentionInterval = 5 * time.Minute

// JobScheduler is the subset of the job engine the services need.
type JobScheduler interface {
	Register(name string, fn job.HandlerFunc)
	ScheduleOnce(ctx context.Context, id string, runAt time.Time, name string, args any) error
	ScheduleRecurring(ctx context.Context, id string, interval time.Duration, firstRunAt time.Time, name string, args any) error
	Cancel(ctx context.Context, id string) error
	Now() time.Time
}

// Job ids are derived from the question token so a timer can always be found again.
func warningJobID(token string) string   { return "warning_" + token }
func closeJobID(token string) string     { return "close_" + token }
func attentionJobID(token string) string { return "attention_reminder_" + token }
func removeJobID(token string) string    { return "remove_" + token }

type tokenArgs struct {
	Token string `json:"token"`
}

var htmlOptions = &telebot.SendOptions{ParseMode: telebot.ModeHTML, DisableWebPagePreview: true}

// TimerManager owns the per-question timers: the inactivity warning/close pair
// and the recurring attention reminder for unclaimed questions.
type TimerManager struct {
	questions         question.Repository
	settings          settings.Repository
	defaults          settings.Defaults
	telegramClient    domainTelegram.Client
	scheduler         JobScheduler
	logger            *logrus.Entry
	attentionInterval time.Duration
	location          *time.Location
}

func NewTimerManager(
	qr question.Repository,
	sr settings.Repository,
	defaults settings.Defaults,
	tc domainTelegram.Client,
	scheduler JobScheduler,
	logger *logrus.Entry,
	attentionInterval time.Duration,
	location *time.Location,
) *TimerManager {
	if attentionInterval <= 0 {
		attentionInterval = DefaultAttentionInterval
	}
	if location == nil {
		location = time.Local
	}
	m := &TimerManager{
		questions:         qr,
		settings:          sr,
		defaults:          defaults,
		telegramClient:    tc,
		scheduler:         scheduler,
		logger:            logger,
		attentionInterval: attentionInterval,
		location:          location,
	}
	scheduler.Register(HandlerInactivityWarning, tokenHandler(m.SendInactivityWarning))
	scheduler.Register(HandlerInactivityClose, tokenHandler(m.AutoCloseQuestion))
	scheduler.Register(HandlerAttentionReminder, tokenHandler(m.SendAttentionReminder))
	return m
}

func tokenHandler(fn func(ctx context.Context, token string) error) job.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) error {
		var args tokenArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("failed to decode job args: %w", err)
		}
		return fn(ctx, args.Token)
	}
}

// StartInactivityTimer schedules the warning and close jobs for a question,
// replacing any pair already scheduled. Nothing is scheduled when activity
// tracking is off for the question.
func (m *TimerManager) StartInactivityTimer(ctx context.Context, token string) error {
	log := m.logger.WithField("token", token)

	q, err := m.questions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, idb.ErrQuestionNotFound) {
			log.Info("Inactivity timer not started: question not found")
			return nil
		}
		return fmt.Errorf("failed to get question %s: %w", token, err)
	}
	gs, err := groupSettings(ctx, m.settings, m.defaults, q.GroupID)
	if err != nil {
		return err
	}
	if !q.ActivityEnabled(gs.ActivityStatus) {
		log.Debug("Activity tracking disabled, inactivity timer not started")
		return nil
	}

	if err := m.StopInactivityTimer(ctx, token); err != nil {
		return err
	}

	now := m.scheduler.Now()
	args := tokenArgs{Token: token}
	warnAt := now.Add(time.Duration(gs.ActivityWarnMinutes) * time.Minute)
	closeAt := now.Add(time.Duration(gs.ActivityCloseMinutes) * time.Minute)
	if err := m.scheduler.ScheduleOnce(ctx, warningJobID(token), warnAt, HandlerInactivityWarning, args); err != nil {
		return fmt.Errorf("failed to schedule inactivity warning: %w", err)
	}
	if err := m.scheduler.ScheduleOnce(ctx, closeJobID(token), closeAt, HandlerInactivityClose, args); err != nil {
		return fmt.Errorf("failed to schedule inactivity close: %w", err)
	}
	log.WithFields(logrus.Fields{
		"warn_minutes":  gs.ActivityWarnMinutes,
		"close_minutes": gs.ActivityCloseMinutes,
	}).Debug("Inactivity timer started")
	return nil
}

func (m *TimerManager) RestartInactivityTimer(ctx context.Context, token string) error {
	if err := m.StopInactivityTimer(ctx, token); err != nil {
		return err
	}
	return m.StartInactivityTimer(ctx, token)
}

// StopInactivityTimer cancels both inactivity jobs. Missing jobs are fine.
func (m *TimerManager) StopInactivityTimer(ctx context.Context, token string) error {
	if err := m.scheduler.Cancel(ctx, warningJobID(token)); err != nil {
		return err
	}
	return m.scheduler.Cancel(ctx, closeJobID(token))
}

// SyncGroupActivity brings the inactivity timers of a group's active questions in
// line with its default activity status. Questions with their own override are
// left alone. A failing question is logged and the walk goes on.
func (m *TimerManager) SyncGroupActivity(ctx context.Context, groupID int64) error {
	gs, err := groupSettings(ctx, m.settings, m.defaults, groupID)
	if err != nil {
		return err
	}
	active, err := m.questions.ListActiveByGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to list active questions of group %d: %w", groupID, err)
	}

	log := m.logger.WithFields(logrus.Fields{"group_id": groupID, "activity_status": gs.ActivityStatus})
	synced := 0
	for _, q := range active {
		if q.ActivityStatusEnabled.Valid {
			continue
		}
		if gs.ActivityStatus {
			err = m.StartInactivityTimer(ctx, q.Token)
		} else {
			err = m.StopInactivityTimer(ctx, q.Token)
		}
		if err != nil {
			log.WithError(err).WithField("token", q.Token).Error("Failed to sync inactivity timer")
			continue
		}
		synced++
	}
	log.WithField("synced", synced).Info("Inactivity timers synced with group activity status")
	return nil
}

// SendInactivityWarning is the body of the warning job.
func (m *TimerManager) SendInactivityWarning(ctx context.Context, token string) error {
	log := m.logger.WithFields(logrus.Fields{"token": token, "job_kind": HandlerInactivityWarning})

	q, err := m.questions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, idb.ErrQuestionNotFound) {
			log.Info("Question gone, skipping inactivity warning")
			return nil
		}
		return fmt.Errorf("failed to get question %s: %w", token, err)
	}
	if !q.IsActive() {
		log.WithField("status", q.Status).Info("Question no longer active, skipping inactivity warning")
		return nil
	}
	gs, err := groupSettings(ctx, m.settings, m.defaults, q.GroupID)
	if err != nil {
		return err
	}
	if !q.ActivityEnabled(gs.ActivityStatus) {
		log.Info("Activity tracking disabled, skipping inactivity warning")
		return nil
	}

	left := gs.ActivityCloseMinutes - gs.ActivityWarnMinutes
	topicText := fmt.Sprintf("⚠️ <b>Внимание!</b>\n\nЧат будет автоматически закрыт через %d мин. при отсутствии активности", left)
	if _, err := m.telegramClient.SendMessage(q.GroupID, q.TopicID, topicText, htmlOptions); err != nil {
		log.WithError(err).Error("Failed to send inactivity warning to topic")
	}
	userText := fmt.Sprintf("⚠️ <b>Внимание!</b>\n\nТвой вопрос будет автоматически закрыт через %d мин. при отсутствии активности", left)
	if _, err := m.telegramClient.SendMessage(q.EmployeeUserID, 0, userText, htmlOptions); err != nil {
		log.WithError(err).Error("Failed to send inactivity warning to employee")
	}
	log.Info("Inactivity warning sent")
	return nil
}

// AutoCloseQuestion is the body of the close job. The status change is a
// conditional update, so a close or claim racing with the job wins cleanly.
func (m *TimerManager) AutoCloseQuestion(ctx context.Context, token string) error {
	log := m.logger.WithFields(logrus.Fields{"token": token, "job_kind": HandlerInactivityClose})

	q, err := m.questions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, idb.ErrQuestionNotFound) {
			log.Info("Question gone, skipping auto-close")
			return nil
		}
		return fmt.Errorf("failed to get question %s: %w", token, err)
	}
	if !q.IsActive() {
		log.WithField("status", q.Status).Info("Question no longer active, skipping auto-close")
		return nil
	}
	gs, err := groupSettings(ctx, m.settings, m.defaults, q.GroupID)
	if err != nil {
		return err
	}
	if !q.ActivityEnabled(gs.ActivityStatus) {
		log.Info("Activity tracking disabled, skipping auto-close")
		return nil
	}

	closed, err := m.questions.Close(ctx, token, m.scheduler.Now())
	if err != nil {
		return fmt.Errorf("failed to close question %s: %w", token, err)
	}
	if !closed {
		log.Info("Question changed before auto-close, skipping")
		return nil
	}

	topicText := fmt.Sprintf("🔒 <b>Вопрос автоматически закрыт</b>\n\nВопрос был закрыт из-за отсутствия активности в течение %d мин.", gs.ActivityCloseMinutes)
	if q.IsClaimed() {
		topicText += RateHintDuty
	}
	if _, err := m.telegramClient.SendMessage(q.GroupID, q.TopicID, topicText, htmlOptions); err != nil {
		log.WithError(err).Error("Failed to send auto-close notice to topic")
	}
	if err := m.telegramClient.EditTopic(q.GroupID, q.TopicID, q.Token, gs.EmojiClosed); err != nil {
		log.WithError(err).Error("Failed to edit topic on auto-close")
	}
	if err := m.telegramClient.CloseTopic(q.GroupID, q.TopicID); err != nil {
		log.WithError(err).Error("Failed to close topic on auto-close")
	}
	userText := fmt.Sprintf("🔒 <b>Вопрос автоматически закрыт</b>\n\nТвой вопрос был закрыт из-за отсутствия активности в течение %d мин.", gs.ActivityCloseMinutes) + RateHintEmployee
	if _, err := m.telegramClient.SendMessage(q.EmployeeUserID, 0, userText, htmlOptions); err != nil {
		log.WithError(err).Error("Failed to send auto-close notice to employee")
	}

	if err := m.scheduler.Cancel(ctx, warningJobID(token)); err != nil {
		log.WithError(err).Error("Failed to cancel leftover warning job")
	}
	if err := m.StopAttentionReminder(ctx, token); err != nil {
		log.WithError(err).Error("Failed to stop attention reminder")
	}
	log.Info("Question auto-closed due to inactivity")
	return nil
}

// StartAttentionReminder schedules the recurring reminder for an open, unclaimed
// question. For any other question it only makes sure no reminder is left.
func (m *TimerManager) StartAttentionReminder(ctx context.Context, token string) error {
	log := m.logger.WithField("token", token)

	q, err := m.questions.GetByToken(ctx, token)
	if err != nil && !errors.Is(err, idb.ErrQuestionNotFound) {
		return fmt.Errorf("failed to get question %s: %w", token, err)
	}
	if q == nil || !q.AwaitsDuty() {
		return m.StopAttentionReminder(ctx, token)
	}

	if err := m.StopAttentionReminder(ctx, token); err != nil {
		return err
	}
	first := m.scheduler.Now().Add(m.attentionInterval)
	err = m.scheduler.ScheduleRecurring(ctx, attentionJobID(token), m.attentionInterval, first, HandlerAttentionReminder, tokenArgs{Token: token})
	if err != nil {
		return fmt.Errorf("failed to schedule attention reminder: %w", err)
	}
	log.Info("Attention reminder started")
	return nil
}

func (m *TimerManager) StopAttentionReminder(ctx context.Context, token string) error {
	return m.scheduler.Cancel(ctx, attentionJobID(token))
}

// SendAttentionReminder is the body of the recurring reminder job. Once the
// question is claimed, closed or gone the job cancels itself.
func (m *TimerManager) SendAttentionReminder(ctx context.Context, token string) error {
	log := m.logger.WithFields(logrus.Fields{"token": token, "job_kind": HandlerAttentionReminder})

	q, err := m.questions.GetByToken(ctx, token)
	if err != nil && !errors.Is(err, idb.ErrQuestionNotFound) {
		return fmt.Errorf("failed to get question %s: %w", token, err)
	}
	if q == nil {
		log.Warn("Question not found, stopping attention reminder")
		return m.StopAttentionReminder(ctx, token)
	}
	if !q.AwaitsDuty() {
		log.Info("Question already claimed or closed, stopping attention reminder")
		return m.StopAttentionReminder(ctx, token)
	}

	waited := int(m.scheduler.Now().Sub(q.StartTime).Minutes())
	text := fmt.Sprintf(`🔔 <b>Вопрос требует внимания!</b>

<b>От:</b> %s
<b>Создан в:</b> %s

Вопрос ожидает дежурного уже %d мин.

<a href="%s">Перейти к вопросу</a>`,
		html.EscapeString(q.EmployeeName), q.StartTime.In(m.location).Format("15:04"), waited, TopicLink(q.GroupID, q.TopicID))
	if _, err := m.telegramClient.SendMessage(q.GroupID, 0, text, htmlOptions); err != nil {
		log.WithError(err).Error("Failed to send attention reminder")
		return nil
	}
	log.Info("Attention reminder sent")
	return nil
}

// TopicLink builds a t.me link to a topic of a private supergroup.
func TopicLink(groupID int64, topicID int) string {
	id := strings.TrimPrefix(strconv.FormatInt(groupID, 10), "-100")
	id = strings.TrimPrefix(id, "-")
	return fmt.Sprintf("https://t.me/c/%s/%d", id, topicID)
}

// groupSettings loads stored settings for a group, falling back to defaults.
func groupSettings(ctx context.Context, repo settings.Repository, defaults settings.Defaults, groupID int64) (*settings.GroupSettings, error) {
	gs, err := repo.GetByGroupID(ctx, groupID)
	if err != nil {
		if errors.Is(err, idb.ErrSettingsNotFound) {
			return defaults.For(groupID), nil
		}
		return nil, fmt.Errorf("failed to get settings for group %d: %w", groupID, err)
	}
	return gs, nil
}
