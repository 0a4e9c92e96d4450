package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"questioner_bot/internal/domain/question"
	domainTelegram "questioner_bot/internal/domain/telegram"
	idb "questioner_bot/internal/infra/database"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

var (
	ErrActiveQuestionExists = fmt.Errorf("employee already has an active question")
	ErrNoActiveQuestion     = fmt.Errorf("employee has no active question")
	ErrNotQuestionTopic     = fmt.Errorf("topic is not bound to a question")
	ErrQuestionClosed       = fmt.Errorf("question is already closed")
	ErrQuestionNotClosed    = fmt.Errorf("question is not closed")
	ErrQuestionNotClaimed   = fmt.Errorf("question is not claimed")
	ErrQuestionClaimed      = fmt.Errorf("question is already claimed")
	ErrNotQuestionOwner     = fmt.Errorf("question is claimed by another duty")
	ErrMessageNotPaired     = fmt.Errorf("message was not relayed")
	ErrNothingToRate        = fmt.Errorf("no question to rate")
	ErrAlreadyRated         = fmt.Errorf("question is already rated")
)

// Rating hints appended to close notices.
const (
	RateHintEmployee = "\n\nПомог ли ответ? /rate good - да, /rate bad - нет"
	RateHintDuty     = "\n\nОцени вопрос: /rate good - специалист не справился бы сам, /rate bad - мог решить сам"
)

const (
	activityNoticeDelay = 10 * time.Second
	editNoticeDelay     = 30 * time.Second
	maxTopicNameLen     = 128
)

// QuestionService drives the question lifecycle and keeps the timers in step with it.
type QuestionService struct {
	questions      question.Repository
	pairs          question.PairRepository
	settings       *SettingsService
	timers         *TimerManager
	cleanup        *CleanupService
	telegramClient domainTelegram.Client
	logger         *logrus.Entry
	forumGroupID   int64
	now            func() time.Time
}

func NewQuestionService(
	qr question.Repository,
	pr question.PairRepository,
	ss *SettingsService,
	tm *TimerManager,
	cs *CleanupService,
	tc domainTelegram.Client,
	logger *logrus.Entry,
	forumGroupID int64,
) *QuestionService {
	return &QuestionService{
		questions:      qr,
		pairs:          pr,
		settings:       ss,
		timers:         tm,
		cleanup:        cs,
		telegramClient: tc,
		logger:         logger,
		forumGroupID:   forumGroupID,
		now:            tm.scheduler.Now,
	}
}

// Open creates a question for the employee: a new forum topic, the stored
// question, a copy of the employee's message, and its timers.
func (s *QuestionService) Open(ctx context.Context, employeeID int64, employeeName, text string, sourceChatID int64, sourceMessageID int) (*question.Question, error) {
	existing, err := s.questions.GetActiveByEmployee(ctx, employeeID)
	if err == nil && existing != nil {
		return existing, ErrActiveQuestionExists
	}
	if err != nil && !errors.Is(err, idb.ErrQuestionNotFound) {
		return nil, fmt.Errorf("failed to check active question: %w", err)
	}

	gs, err := s.settings.Get(ctx, s.forumGroupID)
	if err != nil {
		return nil, err
	}

	topicID, err := s.telegramClient.CreateTopic(s.forumGroupID, topicName(employeeName))
	if err != nil {
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}
	q := &question.Question{
		Token:          uuid.NewString(),
		Status:         question.StatusOpen,
		GroupID:        s.forumGroupID,
		TopicID:        topicID,
		EmployeeUserID: employeeID,
		EmployeeName:   employeeName,
		QuestionText:   text,
		StartTime:      s.now(),
	}
	log := s.logger.WithFields(logrus.Fields{"token": q.Token, "topic_id": topicID})
	if gs.EmojiOpen != "" {
		if err := s.telegramClient.EditTopic(q.GroupID, q.TopicID, "", gs.EmojiOpen); err != nil {
			log.WithError(err).Warn("Failed to set topic icon")
		}
	}

	if err := s.questions.Create(ctx, q); err != nil {
		if errDel := s.telegramClient.DeleteTopic(q.GroupID, q.TopicID); errDel != nil {
			log.WithError(errDel).Warn("Failed to delete topic of unsaved question")
		}
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	header := fmt.Sprintf("Вопрос задает <b>%s</b>\n\n<i>Токен вопроса: <code>%s</code></i>", html.EscapeString(employeeName), q.Token)
	if _, err := s.telegramClient.SendMessage(q.GroupID, q.TopicID, header, htmlOptions); err != nil {
		log.WithError(err).Error("Failed to send question header to topic")
	}
	if copyID, err := s.telegramClient.CopyMessage(q.GroupID, q.TopicID, sourceChatID, sourceMessageID); err != nil {
		log.WithError(err).Error("Failed to copy question into topic")
	} else {
		s.savePair(ctx, log, q, sourceMessageID, copyID, true)
	}

	s.logTimer(log, "start inactivity timer", s.timers.StartInactivityTimer(ctx, q.Token))
	s.logTimer(log, "start attention reminder", s.timers.StartAttentionReminder(ctx, q.Token))
	log.WithField("employee_id", employeeID).Info("Question opened")
	return q, nil
}

// RelayFromEmployee copies an employee message into the question topic and restarts the inactivity timer.
func (s *QuestionService) RelayFromEmployee(ctx context.Context, employeeID int64, chatID int64, messageID int) (*question.Question, error) {
	q, err := s.activeByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	log := s.logger.WithField("token", q.Token)
	copyID, err := s.telegramClient.CopyMessage(q.GroupID, q.TopicID, chatID, messageID)
	if err != nil {
		return q, fmt.Errorf("failed to relay message to topic: %w", err)
	}
	s.savePair(ctx, log, q, messageID, copyID, true)
	s.logTimer(log, "restart inactivity timer", s.timers.RestartInactivityTimer(ctx, q.Token))
	return q, nil
}

// HandleDutyMessage processes a message written into a question topic. The first
// writer claims an unclaimed question; after that only the owner is relayed.
// It reports whether this message claimed the question.
func (s *QuestionService) HandleDutyMessage(ctx context.Context, groupID int64, topicID int, dutyID int64, dutyName string, messageID int) (bool, error) {
	q, err := s.byTopic(ctx, groupID, topicID)
	if err != nil {
		return false, err
	}
	if q.Status == question.StatusClosed {
		return false, ErrQuestionClosed
	}
	log := s.logger.WithFields(logrus.Fields{"token": q.Token, "duty_id": dutyID})

	claimedNow := false
	if !q.IsClaimed() {
		ok, err := s.questions.Claim(ctx, q.Token, dutyID, dutyName)
		if err != nil {
			return false, fmt.Errorf("failed to claim question: %w", err)
		}
		if !ok {
			return false, ErrNotQuestionOwner
		}
		claimedNow = true
		s.onClaimed(ctx, log, q, dutyName)
	} else if q.DutyUserID.Int64 != dutyID {
		return false, ErrNotQuestionOwner
	}

	copyID, err := s.telegramClient.CopyMessage(q.EmployeeUserID, 0, q.GroupID, messageID)
	if err != nil {
		return claimedNow, fmt.Errorf("failed to relay message to employee: %w", err)
	}
	s.savePair(ctx, log, q, copyID, messageID, false)
	if claimedNow {
		s.logTimer(log, "start inactivity timer", s.timers.StartInactivityTimer(ctx, q.Token))
	} else {
		s.logTimer(log, "restart inactivity timer", s.timers.RestartInactivityTimer(ctx, q.Token))
	}
	return claimedNow, nil
}

func (s *QuestionService) onClaimed(ctx context.Context, log *logrus.Entry, q *question.Question, dutyName string) {
	s.logTimer(log, "stop attention reminder", s.timers.StopAttentionReminder(ctx, q.Token))

	if gs, err := s.settings.Get(ctx, q.GroupID); err != nil {
		log.WithError(err).Warn("Failed to load settings for topic icon")
	} else if gs.EmojiInProgress != "" {
		if err := s.telegramClient.EditTopic(q.GroupID, q.TopicID, "", gs.EmojiInProgress); err != nil {
			log.WithError(err).Warn("Failed to set topic icon")
		}
	}

	name := html.EscapeString(dutyName)
	if _, err := s.telegramClient.SendMessage(q.GroupID, q.TopicID, fmt.Sprintf("<b>👮‍♂️ Вопрос в работе</b>\n\nНа вопрос отвечает <b>%s</b>", name), htmlOptions); err != nil {
		log.WithError(err).Warn("Failed to announce claim in topic")
	}
	if _, err := s.telegramClient.SendMessage(q.EmployeeUserID, 0, fmt.Sprintf("<b>👮‍♂️ Вопрос в работе</b>\n\nДежурный <b>%s</b> взял вопрос в работу", name), htmlOptions); err != nil {
		log.WithError(err).Warn("Failed to notify employee about claim")
	}
	log.Info("Question claimed")
}

// CloseByEmployee closes the employee's active question.
func (s *QuestionService) CloseByEmployee(ctx context.Context, employeeID int64) (*question.Question, error) {
	q, err := s.activeByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if err := s.close(ctx, q); err != nil {
		return q, err
	}
	log := s.logger.WithField("token", q.Token)
	text := fmt.Sprintf("🔒 <b>Вопрос закрыт</b>\n\nСпециалист <b>%s</b> закрыл вопрос", html.EscapeString(q.EmployeeName))
	if q.IsClaimed() {
		text += RateHintDuty
	}
	if _, err := s.telegramClient.SendMessage(q.GroupID, q.TopicID, text, htmlOptions); err != nil {
		log.WithError(err).Warn("Failed to notify topic about close")
	}
	log.Info("Question closed by employee")
	return q, nil
}

// CloseByDuty closes the question bound to the topic. Only its owner or an admin may do it.
func (s *QuestionService) CloseByDuty(ctx context.Context, groupID int64, topicID int, userID int64, userName string) (*question.Question, error) {
	q, err := s.byTopic(ctx, groupID, topicID)
	if err != nil {
		return nil, err
	}
	if q.Status == question.StatusClosed {
		return q, ErrQuestionClosed
	}
	if q.DutyUserID.Int64 != userID && !s.settings.IsAdmin(userID) {
		return q, ErrNotQuestionOwner
	}
	if err := s.close(ctx, q); err != nil {
		return q, err
	}
	log := s.logger.WithField("token", q.Token)
	if _, err := s.telegramClient.SendMessage(q.EmployeeUserID, 0, fmt.Sprintf("🔒 <b>Вопрос закрыт</b>\n\nДежурный <b>%s</b> закрыл вопрос", html.EscapeString(userName))+RateHintEmployee, htmlOptions); err != nil {
		log.WithError(err).Warn("Failed to notify employee about close")
	}
	log.WithField("closed_by", userID).Info("Question closed by duty")
	return q, nil
}

func (s *QuestionService) close(ctx context.Context, q *question.Question) error {
	log := s.logger.WithField("token", q.Token)
	s.logTimer(log, "stop inactivity timer", s.timers.StopInactivityTimer(ctx, q.Token))

	closed, err := s.questions.Close(ctx, q.Token, s.now())
	if err != nil {
		return fmt.Errorf("failed to close question: %w", err)
	}
	if !closed {
		return ErrQuestionClosed
	}
	s.logTimer(log, "stop attention reminder", s.timers.StopAttentionReminder(ctx, q.Token))

	emoji := ""
	if gs, err := s.settings.Get(ctx, q.GroupID); err != nil {
		log.WithError(err).Warn("Failed to load settings for topic icon")
	} else {
		emoji = gs.EmojiClosed
	}
	if err := s.telegramClient.EditTopic(q.GroupID, q.TopicID, q.Token, emoji); err != nil {
		log.WithError(err).Warn("Failed to edit topic on close")
	}
	if err := s.telegramClient.CloseTopic(q.GroupID, q.TopicID); err != nil {
		log.WithError(err).Warn("Failed to close topic")
	}
	return nil
}

// Release returns a claimed question to the open pool so another duty can take it.
func (s *QuestionService) Release(ctx context.Context, groupID int64, topicID int, userID int64, userName string) (*question.Question, error) {
	q, err := s.byTopic(ctx, groupID, topicID)
	if err != nil {
		return nil, err
	}
	if !q.IsClaimed() || q.Status != question.StatusInProgress {
		return q, ErrQuestionNotClaimed
	}
	if q.DutyUserID.Int64 != userID && !s.settings.IsAdmin(userID) {
		return q, ErrNotQuestionOwner
	}
	ok, err := s.questions.Release(ctx, q.Token)
	if err != nil {
		return q, fmt.Errorf("failed to release question: %w", err)
	}
	if !ok {
		return q, ErrQuestionNotClaimed
	}
	log := s.logger.WithField("token", q.Token)

	if gs, err := s.settings.Get(ctx, q.GroupID); err != nil {
		log.WithError(err).Warn("Failed to load settings for topic icon")
	} else if gs.EmojiOpen != "" {
		if err := s.telegramClient.EditTopic(q.GroupID, q.TopicID, "", gs.EmojiOpen); err != nil {
			log.WithError(err).Warn("Failed to set topic icon")
		}
	}
	if _, err := s.telegramClient.SendMessage(q.EmployeeUserID, 0, fmt.Sprintf("<b>🕊️ Дежурный покинул чат</b>\n\nДежурный <b>%s</b> освободил вопрос. Ожидай повторного подключения дежурного", html.EscapeString(userName)), htmlOptions); err != nil {
		log.WithError(err).Warn("Failed to notify employee about release")
	}

	s.logTimer(log, "restart inactivity timer", s.timers.RestartInactivityTimer(ctx, q.Token))
	s.logTimer(log, "start attention reminder", s.timers.StartAttentionReminder(ctx, q.Token))
	log.WithField("released_by", userID).Info("Question released")
	return q, nil
}

// Reopen brings a closed question back to work.
func (s *QuestionService) Reopen(ctx context.Context, groupID int64, topicID int, userID int64) (*question.Question, error) {
	q, err := s.byTopic(ctx, groupID, topicID)
	if err != nil {
		return nil, err
	}
	if q.Status != question.StatusClosed {
		return q, ErrQuestionNotClosed
	}
	if q.IsClaimed() && q.DutyUserID.Int64 != userID && !s.settings.IsAdmin(userID) {
		return q, ErrNotQuestionOwner
	}
	active, err := s.questions.GetActiveByEmployee(ctx, q.EmployeeUserID)
	if err != nil && !errors.Is(err, idb.ErrQuestionNotFound) {
		return q, fmt.Errorf("failed to check active question: %w", err)
	}
	if active != nil {
		return q, ErrActiveQuestionExists
	}
	ok, err := s.questions.Reopen(ctx, q.Token)
	if err != nil {
		return q, fmt.Errorf("failed to reopen question: %w", err)
	}
	if !ok {
		return q, ErrQuestionNotClosed
	}
	log := s.logger.WithField("token", q.Token)

	if err := s.telegramClient.ReopenTopic(q.GroupID, q.TopicID); err != nil {
		log.WithError(err).Warn("Failed to reopen topic")
	}
	if gs, err := s.settings.Get(ctx, q.GroupID); err != nil {
		log.WithError(err).Warn("Failed to load settings for topic icon")
	} else {
		emoji := gs.EmojiInProgress
		if !q.IsClaimed() {
			emoji = gs.EmojiOpen
		}
		if err := s.telegramClient.EditTopic(q.GroupID, q.TopicID, topicName(q.EmployeeName), emoji); err != nil {
			log.WithError(err).Warn("Failed to edit topic on reopen")
		}
	}
	if _, err := s.telegramClient.SendMessage(q.EmployeeUserID, 0, "<b>🔓 Вопрос переоткрыт</b>\n\nДежурный вернул вопрос в работу", htmlOptions); err != nil {
		log.WithError(err).Warn("Failed to notify employee about reopen")
	}

	s.logTimer(log, "start inactivity timer", s.timers.StartInactivityTimer(ctx, q.Token))
	s.logTimer(log, "start attention reminder", s.timers.StartAttentionReminder(ctx, q.Token))
	log.WithField("reopened_by", userID).Info("Question reopened")
	return q, nil
}

// Cancel withdraws the employee's question while nobody has claimed it.
// The question is deleted and its topic removed shortly after.
func (s *QuestionService) Cancel(ctx context.Context, employeeID int64) (*question.Question, error) {
	q, err := s.activeByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if !q.AwaitsDuty() {
		return q, ErrQuestionClaimed
	}
	log := s.logger.WithField("token", q.Token)

	s.logTimer(log, "stop inactivity timer", s.timers.StopInactivityTimer(ctx, q.Token))
	s.logTimer(log, "stop attention reminder", s.timers.StopAttentionReminder(ctx, q.Token))

	if err := s.questions.Delete(ctx, q.Token); err != nil {
		return q, fmt.Errorf("failed to delete question: %w", err)
	}
	if err := s.telegramClient.CloseTopic(q.GroupID, q.TopicID); err != nil {
		log.WithError(err).Warn("Failed to close cancelled topic")
	}
	if _, err := s.telegramClient.SendMessage(q.GroupID, q.TopicID, "<b>🔥 Отмена вопроса</b>\n\nСпециалист отменил вопрос\n\n<i>Вопрос будет удален через 30 секунд</i>", htmlOptions); err != nil {
		log.WithError(err).Warn("Failed to announce cancel in topic")
	}
	if err := s.cleanup.RemoveQuestionTimer(ctx, q); err != nil {
		log.WithError(err).Error("Failed to schedule topic removal")
	}
	log.Info("Question cancelled by employee")
	return q, nil
}

// SetActivity switches auto-close for a single question on or off.
func (s *QuestionService) SetActivity(ctx context.Context, groupID int64, topicID int, enabled bool) (*question.Question, error) {
	q, err := s.byTopic(ctx, groupID, topicID)
	if err != nil {
		return nil, err
	}
	if !q.IsActive() {
		return q, ErrQuestionClosed
	}
	log := s.logger.WithFields(logrus.Fields{"token": q.Token, "enabled": enabled})

	if !enabled {
		s.logTimer(log, "stop inactivity timer", s.timers.StopInactivityTimer(ctx, q.Token))
	}
	if err := s.questions.SetActivityStatus(ctx, q.Token, sql.NullBool{Bool: enabled, Valid: true}); err != nil {
		return q, fmt.Errorf("failed to update activity status: %w", err)
	}
	q.ActivityStatusEnabled = sql.NullBool{Bool: enabled, Valid: true}
	if enabled {
		s.logTimer(log, "start inactivity timer", s.timers.StartInactivityTimer(ctx, q.Token))
	}

	topicText := "🟠 <b>Автозакрытие отключено</b>\n\nТопик не будет закрываться автоматически\n\n<i>Сообщение удалится через 10 секунд</i>"
	userText := "🟠 <b>Автозакрытие отключено</b>\n\nДежурный выключил автоматическое закрытие вопроса при отсутствии активности\n\n<i>Сообщение удалится через 10 секунд</i>"
	if enabled {
		topicText = "🟢 <b>Автозакрытие включено</b>\n\nТопик будет автоматически закрыт при отсутствии активности\n\n<i>Сообщение удалится через 10 секунд</i>"
		userText = "🟢 <b>Автозакрытие включено</b>\n\nДежурный включил автоматическое закрытие вопроса при отсутствии активности\n\n<i>Сообщение удалится через 10 секунд</i>"
	}
	s.sendEphemeral(ctx, log, q.GroupID, q.TopicID, topicText)
	s.sendEphemeral(ctx, log, q.EmployeeUserID, 0, userText)
	log.Info("Activity status changed")
	return q, nil
}

// MirrorEdit applies an edit of a relayed message to its copy on the other side
// and lets the other side know. Only the author's original can be mirrored.
func (s *QuestionService) MirrorEdit(ctx context.Context, chatID int64, messageID int, text string, caption bool) error {
	p, err := s.pairs.FindPair(ctx, chatID, messageID)
	if err != nil {
		if errors.Is(err, idb.ErrPairNotFound) {
			return ErrMessageNotPaired
		}
		return fmt.Errorf("failed to find message pair: %w", err)
	}
	if srcChat, srcMsg := p.Source(); srcChat != chatID || srcMsg != messageID {
		return ErrMessageNotPaired
	}
	q, err := s.questions.GetByToken(ctx, p.Token)
	if err != nil {
		if errors.Is(err, idb.ErrQuestionNotFound) {
			return ErrMessageNotPaired
		}
		return fmt.Errorf("failed to get question %s: %w", p.Token, err)
	}
	if q.Status == question.StatusClosed {
		return ErrQuestionClosed
	}
	// Media replaced without a caption leaves nothing to mirror.
	if strings.TrimSpace(text) == "" {
		return nil
	}
	log := s.logger.WithFields(logrus.Fields{"token": q.Token, "from_employee": p.FromEmployee})

	editor := "дежурным"
	if p.FromEmployee {
		editor = "специалистом"
	}
	body := fmt.Sprintf("%s\n\n<i>Сообщение изменено %s в %s</i>",
		html.EscapeString(text), editor, s.now().In(s.timers.location).Format("15:04 02.01.2006"))
	copyChat, copyMsg := p.Copy()
	if caption {
		err = s.telegramClient.EditMessageCaption(copyChat, copyMsg, body, htmlOptions)
	} else {
		err = s.telegramClient.EditMessageText(copyChat, copyMsg, body, htmlOptions)
	}
	if err != nil {
		return fmt.Errorf("failed to mirror edit: %w", err)
	}

	if p.FromEmployee {
		notice := "✏️ <b>Сообщение изменено</b>\n\nСпециалист отредактировал сообщение\n\n<i>Уведомление удалится через 30 секунд</i>"
		if id, err := s.telegramClient.SendMessage(p.GroupID, p.TopicID, notice, replyOptions(copyMsg)); err != nil {
			log.WithError(err).Warn("Failed to notify topic about edit")
		} else if err := s.cleanup.RunDeleteTimer(ctx, p.GroupID, []int{id}, editNoticeDelay); err != nil {
			log.WithError(err).Error("Failed to schedule notice deletion")
		}
	} else {
		notice := "✏️ <b>Сообщение изменено</b>\n\nДежурный отредактировал ответ"
		if _, err := s.telegramClient.SendMessage(p.EmployeeChatID, 0, notice, replyOptions(copyMsg)); err != nil {
			log.WithError(err).Warn("Failed to notify employee about edit")
		}
	}
	log.Info("Message edit mirrored")
	return nil
}

// RateByEmployee stores the employee's verdict on their latest question, which must be closed.
func (s *QuestionService) RateByEmployee(ctx context.Context, employeeID int64, good bool) (*question.Question, error) {
	q, err := s.questions.GetLatestByEmployee(ctx, employeeID)
	if err != nil {
		if errors.Is(err, idb.ErrQuestionNotFound) {
			return nil, ErrNothingToRate
		}
		return nil, fmt.Errorf("failed to get latest question: %w", err)
	}
	if q.Status != question.StatusClosed {
		return q, ErrQuestionNotClosed
	}
	return q, s.rate(ctx, q, question.RaterEmployee, good)
}

// RateByDuty stores the duty's verdict on the closed question of a topic. Only
// the duty who answered it may rate.
func (s *QuestionService) RateByDuty(ctx context.Context, groupID int64, topicID int, userID int64, good bool) (*question.Question, error) {
	q, err := s.byTopic(ctx, groupID, topicID)
	if err != nil {
		return nil, err
	}
	if q.Status != question.StatusClosed {
		return q, ErrQuestionNotClosed
	}
	if !q.IsClaimed() || q.DutyUserID.Int64 != userID {
		return q, ErrNotQuestionOwner
	}
	return q, s.rate(ctx, q, question.RaterDuty, good)
}

func (s *QuestionService) rate(ctx context.Context, q *question.Question, rater question.Rater, good bool) error {
	if q.Rated(rater) {
		return ErrAlreadyRated
	}
	ok, err := s.questions.SetQuality(ctx, q.Token, rater, good)
	if err != nil {
		return fmt.Errorf("failed to rate question: %w", err)
	}
	if !ok {
		return ErrAlreadyRated
	}
	rating := sql.NullBool{Bool: good, Valid: true}
	if rater == question.RaterDuty {
		q.QualityDuty = rating
	} else {
		q.QualityEmployee = rating
	}
	s.logger.WithFields(logrus.Fields{"token": q.Token, "rater": rater, "good": good}).Info("Question rated")
	return nil
}

// savePair records a relayed message so later edits can be mirrored. A failure
// only costs edit mirroring for that message.
func (s *QuestionService) savePair(ctx context.Context, log *logrus.Entry, q *question.Question, employeeMessageID, topicMessageID int, fromEmployee bool) {
	p := &question.MessagePair{
		Token:             q.Token,
		EmployeeChatID:    q.EmployeeUserID,
		EmployeeMessageID: employeeMessageID,
		GroupID:           q.GroupID,
		TopicID:           q.TopicID,
		TopicMessageID:    topicMessageID,
		FromEmployee:      fromEmployee,
		CreatedAt:         s.now(),
	}
	if err := s.pairs.AddPair(ctx, p); err != nil {
		log.WithError(err).Warn("Failed to save message pair")
	}
}

func replyOptions(messageID int) *telebot.SendOptions {
	opts := *htmlOptions
	opts.ReplyTo = &telebot.Message{ID: messageID}
	return &opts
}

func (s *QuestionService) sendEphemeral(ctx context.Context, log *logrus.Entry, chatID int64, topicID int, text string) {
	msgID, err := s.telegramClient.SendMessage(chatID, topicID, text, htmlOptions)
	if err != nil {
		log.WithError(err).WithField("chat_id", chatID).Warn("Failed to send notice")
		return
	}
	if err := s.cleanup.RunDeleteTimer(ctx, chatID, []int{msgID}, activityNoticeDelay); err != nil {
		log.WithError(err).Error("Failed to schedule notice deletion")
	}
}

func (s *QuestionService) activeByEmployee(ctx context.Context, employeeID int64) (*question.Question, error) {
	q, err := s.questions.GetActiveByEmployee(ctx, employeeID)
	if err != nil {
		if errors.Is(err, idb.ErrQuestionNotFound) {
			return nil, ErrNoActiveQuestion
		}
		return nil, fmt.Errorf("failed to get active question: %w", err)
	}
	return q, nil
}

func (s *QuestionService) byTopic(ctx context.Context, groupID int64, topicID int) (*question.Question, error) {
	q, err := s.questions.GetByTopic(ctx, groupID, topicID)
	if err != nil {
		if errors.Is(err, idb.ErrQuestionNotFound) {
			return nil, ErrNotQuestionTopic
		}
		return nil, fmt.Errorf("failed to get question by topic: %w", err)
	}
	return q, nil
}

// logTimer logs a failed timer call. The user-facing action has already happened, so it is not returned.
func (s *QuestionService) logTimer(log *logrus.Entry, op string, err error) {
	if err != nil {
		log.WithError(err).Errorf("Failed to %s", op)
	}
}

func topicName(employeeName string) string {
	if employeeName == "" {
		return "Вопрос"
	}
	if utf8.RuneCountInString(employeeName) <= maxTopicNameLen {
		return employeeName
	}
	return string([]rune(employeeName)[:maxTopicNameLen])
}
