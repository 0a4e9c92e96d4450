package telegram

import (
	"context"
	"errors"
	"strings"

	"questioner_bot/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	msgGenericError   = "⚠️ Произошла ошибка. Пожалуйста, попробуйте позже."
	msgNotYourChat    = "<b>⚠️ Предупреждение</b>\n\nЭто не твой чат!\n\n<i>Твое сообщение не отобразится специалисту</i>"
	msgAlreadyClosed  = "<b>⚠️ Предупреждение</b>\n\nВопрос уже закрыт"
	msgNoActive       = "У тебя нет активного вопроса. Просто напиши его сообщением."
	msgNotQuestion    = "<b>⚠️ Предупреждение</b>\n\nНе удалось найти вопрос для этой темы"
	msgVoiceForbidden = "<b>⚠️ Голосовые сообщения недоступны</b>\n\nПожалуйста, используй текстовые сообщения для общения"
	msgAlreadyRated   = "Вопрос уже оценен"
	msgRated          = "Спасибо за оценку!"
	msgRateUsage      = "Неверный формат команды. Используйте: /rate good|bad"
	msgEditNotShown   = "<b>⚠️ Предупреждение</b>\n\nВопрос закрыт, изменение не отобразится"
)

// RegisterQuestionHandlers wires the employee side (private chat) and the duty side
// (forum topics of forumGroupID) of the question flow.
func RegisterQuestionHandlers(ctx context.Context, b *telebot.Bot, questionService *app.QuestionService, forumGroupID int64, baseLogger *logrus.Entry) {
	onMessage := func(c telebot.Context) error {
		// Unknown commands end up here too.
		if strings.HasPrefix(c.Message().Text, "/") {
			return nil
		}
		switch {
		case c.Chat().Type == telebot.ChatPrivate:
			return handleEmployeeMessage(ctx, c, questionService, baseLogger)
		case c.Chat().ID == forumGroupID:
			return handleDutyMessage(ctx, c, questionService, baseLogger)
		}
		return nil
	}
	b.Handle(telebot.OnText, onMessage)
	b.Handle(telebot.OnMedia, onMessage)
	b.Handle(telebot.OnVoice, func(c telebot.Context) error {
		if c.Chat().Type == telebot.ChatPrivate {
			return c.Reply(msgVoiceForbidden, htmlSend)
		}
		return onMessage(c)
	})

	b.Handle(telebot.OnEdited, func(c telebot.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		if c.Chat().Type != telebot.ChatPrivate && (c.Chat().ID != forumGroupID || !m.TopicMessage || m.ThreadID == 0) {
			return nil
		}
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "edited_message", "chat_id": c.Chat().ID, "message_id": m.ID})

		text, caption := m.Text, false
		if text == "" {
			text, caption = m.Caption, true
		}
		err := questionService.MirrorEdit(ctx, c.Chat().ID, m.ID, text, caption)
		switch {
		case err == nil, errors.Is(err, app.ErrMessageNotPaired):
			return nil
		case errors.Is(err, app.ErrQuestionClosed):
			return c.Reply(msgEditNotShown, htmlSend)
		}
		handlerLogger.WithError(err).Error("Failed to mirror edited message")
		return nil
	})

	b.Handle("/close", func(c telebot.Context) error {
		if c.Chat().Type != telebot.ChatPrivate {
			return nil
		}
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/close", "sender_id": c.Sender().ID})
		q, err := questionService.CloseByEmployee(ctx, c.Sender().ID)
		if err != nil {
			switch {
			case errors.Is(err, app.ErrNoActiveQuestion):
				return c.Send(msgNoActive)
			case errors.Is(err, app.ErrQuestionClosed):
				return c.Send(msgAlreadyClosed, htmlSend)
			default:
				handlerLogger.WithError(err).Error("Failed to close question")
				return c.Send(msgGenericError)
			}
		}
		handlerLogger.WithField("token", q.Token).Info("Question closed by employee")
		return c.Send("🔒 <b>Вопрос закрыт</b>\n\nСпасибо! Если появится новый вопрос, просто напиши его."+app.RateHintEmployee, htmlSend)
	})

	b.Handle("/cancel", func(c telebot.Context) error {
		if c.Chat().Type != telebot.ChatPrivate {
			return nil
		}
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/cancel", "sender_id": c.Sender().ID})
		q, err := questionService.Cancel(ctx, c.Sender().ID)
		if err != nil {
			switch {
			case errors.Is(err, app.ErrNoActiveQuestion):
				return c.Send("Не удалось найти отменяемый вопрос")
			case errors.Is(err, app.ErrQuestionClaimed):
				return c.Send("Вопрос не может быть отменен. Он уже в работе")
			default:
				handlerLogger.WithError(err).Error("Failed to cancel question")
				return c.Send(msgGenericError)
			}
		}
		handlerLogger.WithField("token", q.Token).Info("Question cancelled")
		return c.Send("Вопрос успешно удален")
	})

	b.Handle("/end", inTopic(forumGroupID, func(c telebot.Context, topicID int) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/end", "sender_id": c.Sender().ID, "topic_id": topicID})
		q, err := questionService.CloseByDuty(ctx, c.Chat().ID, topicID, c.Sender().ID, fullName(c.Sender()))
		if err != nil {
			return replyTopicError(c, handlerLogger, err, "Failed to close question")
		}
		text := "🔒 <b>Вопрос закрыт</b>\n\n<i>Токен вопроса: <code>" + q.Token + "</code></i>"
		if q.IsClaimed() {
			text += app.RateHintDuty
		}
		return c.Send(text, htmlSend)
	}))

	b.Handle("/release", inTopic(forumGroupID, func(c telebot.Context, topicID int) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/release", "sender_id": c.Sender().ID, "topic_id": topicID})
		_, err := questionService.Release(ctx, c.Chat().ID, topicID, c.Sender().ID, fullName(c.Sender()))
		if err != nil {
			return replyTopicError(c, handlerLogger, err, "Failed to release question")
		}
		return c.Send("<b>🕊️ Вопрос освобожден</b>\n\nДля взятия вопроса в работу напиши сообщение в эту тему", htmlSend)
	}))

	b.Handle("/reopen", inTopic(forumGroupID, func(c telebot.Context, topicID int) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/reopen", "sender_id": c.Sender().ID, "topic_id": topicID})
		_, err := questionService.Reopen(ctx, c.Chat().ID, topicID, c.Sender().ID)
		if err != nil {
			return replyTopicError(c, handlerLogger, err, "Failed to reopen question")
		}
		return c.Send("<b>🔓 Вопрос переоткрыт</b>", htmlSend)
	}))

	rateInTopic := inTopic(forumGroupID, func(c telebot.Context, topicID int) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/rate", "sender_id": c.Sender().ID, "topic_id": topicID})
		good, ok := parseRating(c.Args())
		if !ok {
			return c.Send(msgRateUsage)
		}
		if _, err := questionService.RateByDuty(ctx, c.Chat().ID, topicID, c.Sender().ID, good); err != nil {
			return replyTopicError(c, handlerLogger, err, "Failed to rate question")
		}
		return c.Reply(msgRated)
	})
	b.Handle("/rate", func(c telebot.Context) error {
		if c.Chat().Type != telebot.ChatPrivate {
			return rateInTopic(c)
		}
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/rate", "sender_id": c.Sender().ID})
		good, ok := parseRating(c.Args())
		if !ok {
			return c.Send(msgRateUsage)
		}
		if _, err := questionService.RateByEmployee(ctx, c.Sender().ID, good); err != nil {
			switch {
			case errors.Is(err, app.ErrNothingToRate):
				return c.Send("У тебя пока нет вопросов для оценки")
			case errors.Is(err, app.ErrQuestionNotClosed):
				return c.Send("Вопрос еще в работе. Оценить его можно после закрытия")
			case errors.Is(err, app.ErrAlreadyRated):
				return c.Send(msgAlreadyRated)
			default:
				handlerLogger.WithError(err).Error("Failed to rate question")
				return c.Send(msgGenericError)
			}
		}
		return c.Send(msgRated)
	})

	b.Handle("/activity", inTopic(forumGroupID, func(c telebot.Context, topicID int) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/activity", "sender_id": c.Sender().ID, "topic_id": topicID})
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Неверный формат команды. Используйте: /activity on|off")
		}
		var enabled bool
		switch strings.ToLower(args[0]) {
		case "on":
			enabled = true
		case "off":
			enabled = false
		default:
			return c.Send("Неверный формат команды. Используйте: /activity on|off")
		}
		if _, err := questionService.SetActivity(ctx, c.Chat().ID, topicID, enabled); err != nil {
			return replyTopicError(c, handlerLogger, err, "Failed to change activity status")
		}
		return nil
	}))
}

func handleEmployeeMessage(ctx context.Context, c telebot.Context, qs *app.QuestionService, baseLogger *logrus.Entry) error {
	m := c.Message()
	handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "employee_message", "sender_id": c.Sender().ID})

	_, err := qs.RelayFromEmployee(ctx, c.Sender().ID, c.Chat().ID, m.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, app.ErrNoActiveQuestion) {
		handlerLogger.WithError(err).Error("Failed to relay employee message")
		return c.Send(msgGenericError)
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	q, err := qs.Open(ctx, c.Sender().ID, fullName(c.Sender()), text, c.Chat().ID, m.ID)
	if err != nil {
		handlerLogger.WithError(err).Error("Failed to open question")
		return c.Send(msgGenericError)
	}
	handlerLogger.WithField("token", q.Token).Info("New question created")
	return c.Send("<b>✅ Успешно</b>\n\nВопрос передан на рассмотрение, в скором времени тебе ответят\n\n"+
		"/cancel - отменить вопрос\n/close - закрыть вопрос", htmlSend)
}

func handleDutyMessage(ctx context.Context, c telebot.Context, qs *app.QuestionService, baseLogger *logrus.Entry) error {
	m := c.Message()
	if !m.TopicMessage || m.ThreadID == 0 {
		return nil
	}
	handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "duty_message", "sender_id": c.Sender().ID, "topic_id": m.ThreadID})

	claimed, err := qs.HandleDutyMessage(ctx, c.Chat().ID, m.ThreadID, c.Sender().ID, fullName(c.Sender()), m.ID)
	if err != nil {
		if errors.Is(err, app.ErrNotQuestionTopic) {
			return nil
		}
		return replyTopicError(c, handlerLogger, err, "Failed to handle duty message")
	}
	if claimed {
		handlerLogger.Info("Question taken into work")
	}
	return nil
}

// parseRating reads "good" or "bad" from the command arguments.
func parseRating(args []string) (good bool, ok bool) {
	if len(args) != 1 {
		return false, false
	}
	switch strings.ToLower(args[0]) {
	case "good":
		return true, true
	case "bad":
		return false, true
	}
	return false, false
}

// inTopic restricts a handler to forum topics of the duty group.
func inTopic(forumGroupID int64, fn func(c telebot.Context, topicID int) error) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		m := c.Message()
		if m == nil || c.Chat().ID != forumGroupID || !m.TopicMessage || m.ThreadID == 0 {
			return nil
		}
		return fn(c, m.ThreadID)
	}
}

func replyTopicError(c telebot.Context, log *logrus.Entry, err error, what string) error {
	switch {
	case errors.Is(err, app.ErrNotQuestionTopic):
		return c.Reply(msgNotQuestion, htmlSend)
	case errors.Is(err, app.ErrQuestionClosed):
		return c.Reply(msgAlreadyClosed, htmlSend)
	case errors.Is(err, app.ErrNotQuestionOwner):
		return c.Reply(msgNotYourChat, htmlSend)
	case errors.Is(err, app.ErrQuestionNotClaimed):
		return c.Reply("<b>⚠️ Предупреждение</b>\n\nЭтот чат сейчас никем не занят!", htmlSend)
	case errors.Is(err, app.ErrQuestionNotClosed):
		return c.Reply("<b>⚠️ Предупреждение</b>\n\nВопрос не закрыт", htmlSend)
	case errors.Is(err, app.ErrAlreadyRated):
		return c.Reply(msgAlreadyRated)
	case errors.Is(err, app.ErrActiveQuestionExists):
		return c.Reply("<b>⚠️ Предупреждение</b>\n\nУ специалиста уже есть другой активный вопрос", htmlSend)
	}
	log.WithError(err).Error(what)
	return c.Reply(msgGenericError)
}
