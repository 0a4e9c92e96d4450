// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"fmt"
	"strings"

	"questioner_bot/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

var htmlSend = &telebot.SendOptions{ParseMode: telebot.ModeHTML, DisableWebPagePreview: true}

func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	settingsService *app.SettingsService,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		if c.Chat().Type != telebot.ChatPrivate {
			return nil
		}
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", c.Sender().ID)
		logCtx.Info("Processing /start command")

		return c.Send(fmt.Sprintf("Привет, %s!\n\nНапиши свой вопрос одним сообщением, и я передам его дежурным. "+
			"Ответы дежурного будут приходить сюда же.", fullName(c.Sender())))
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		var helpText strings.Builder
		if c.Chat().Type == telebot.ChatPrivate {
			helpText.WriteString("<b>Команды специалиста</b>\n\n")
			helpText.WriteString("Любое сообщение - задать вопрос или продолжить текущий.\n")
			helpText.WriteString("/close - закрыть текущий вопрос.\n")
			helpText.WriteString("/cancel - отменить вопрос, пока его не взяли в работу.\n")
			helpText.WriteString("/rate good|bad - оценить последний закрытый вопрос.\n")
			helpText.WriteString("Исправленное сообщение обновится и у дежурного, пока вопрос открыт.\n")
		} else {
			helpText.WriteString("<b>Команды дежурного</b> (внутри темы вопроса)\n\n")
			helpText.WriteString("Первое сообщение в теме - взять вопрос в работу.\n")
			helpText.WriteString("/end - закрыть вопрос.\n")
			helpText.WriteString("/release - освободить вопрос.\n")
			helpText.WriteString("/reopen - вернуть закрытый вопрос в работу.\n")
			helpText.WriteString("/activity on|off - включить или выключить автозакрытие.\n")
			helpText.WriteString("/rate good|bad - оценить закрытый вопрос (good - специалист не справился бы сам).\n")
		}
		if settingsService.IsAdmin(senderID) {
			helpText.WriteString("\n<b>Команды администратора</b>\n\n")
			helpText.WriteString("/settings [warn close [on|off]] - таймеры бездействия форума.\n")
			helpText.WriteString("/emoji open in_progress closed - иконки тем (\"-\" оставляет текущую).\n")
			helpText.WriteString("/jobs - запланированные задачи.\n")
		}
		return c.Send(helpText.String(), htmlSend)
	})
}

func fullName(u *telebot.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}
