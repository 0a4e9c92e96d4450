package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"questioner_bot/internal/app"
	"questioner_bot/internal/domain/job"
	"questioner_bot/internal/domain/settings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// JobLister exposes the scheduled jobs for the /jobs command.
type JobLister interface {
	ListActive(ctx context.Context) ([]*job.Job, error)
}

const maxListedJobs = 30

// RegisterAdminHandlers registers the settings commands available to configured admins.
func RegisterAdminHandlers(
	ctx context.Context,
	b *telebot.Bot,
	settingsService *app.SettingsService,
	jobs JobLister,
	forumGroupID int64,
	location *time.Location,
	baseLogger *logrus.Entry,
) {
	adminOnly := func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			if !settingsService.IsAdmin(c.Sender().ID) {
				baseLogger.WithField("sender_id", c.Sender().ID).Warn("Unauthorized admin command attempt")
				return c.Send("Эта команда доступна только администраторам.")
			}
			return next(c)
		}
	}

	b.Handle("/settings", adminOnly(func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/settings", "admin_id": c.Sender().ID})
		args := c.Args()

		if len(args) == 0 {
			gs, err := settingsService.Get(ctx, forumGroupID)
			if err != nil {
				handlerLogger.WithError(err).Error("Failed to load settings")
				return c.Send(msgGenericError)
			}
			return c.Send(formatSettings(gs), htmlSend)
		}

		if len(args) != 2 && len(args) != 3 {
			return c.Send("Неверный формат команды. Используйте: /settings [warn close [on|off]]")
		}
		warn, errW := strconv.Atoi(args[0])
		closeAfter, errC := strconv.Atoi(args[1])
		if errW != nil || errC != nil {
			return c.Send("Время должно быть целым числом минут.")
		}
		var enabled *bool
		if len(args) == 3 {
			switch strings.ToLower(args[2]) {
			case "on":
				v := true
				enabled = &v
			case "off":
				v := false
				enabled = &v
			default:
				return c.Send("Третий аргумент должен быть on или off.")
			}
		}

		gs, err := settingsService.UpdateActivity(ctx, c.Sender().ID, forumGroupID, warn, closeAfter, enabled)
		if err != nil {
			if errors.Is(err, settings.ErrInvalidActivityTimings) {
				return c.Send("Время предупреждения должно быть больше нуля и меньше времени закрытия.")
			}
			handlerLogger.WithError(err).Error("Failed to update activity settings")
			return c.Send(msgGenericError)
		}
		handlerLogger.WithFields(logrus.Fields{"warn": warn, "close": closeAfter}).Info("Activity settings updated")
		return c.Send("✅ Настройки обновлены. Включение и выключение автозакрытия применяется сразу, новое время - при следующем перезапуске таймеров.\n\n"+formatSettings(gs), htmlSend)
	}))

	b.Handle("/emoji", adminOnly(func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/emoji", "admin_id": c.Sender().ID})
		args := c.Args()
		if len(args) != 3 {
			return c.Send("Неверный формат команды. Используйте: /emoji <open> <in_progress> <closed>, \"-\" оставляет текущее значение")
		}
		for i, a := range args {
			if a == "-" {
				args[i] = ""
			}
		}
		gs, err := settingsService.UpdateEmoji(ctx, c.Sender().ID, forumGroupID, args[0], args[1], args[2])
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to update emoji settings")
			return c.Send(msgGenericError)
		}
		return c.Send("✅ Иконки обновлены.\n\n"+formatSettings(gs), htmlSend)
	}))

	b.Handle("/jobs", adminOnly(func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/jobs", "admin_id": c.Sender().ID})
		list, err := jobs.ListActive(ctx)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list jobs")
			return c.Send(msgGenericError)
		}
		if len(list) == 0 {
			return c.Send("Запланированных задач нет.")
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("<b>Запланированные задачи: %d</b>\n\n", len(list)))
		for i, j := range list {
			if i == maxListedJobs {
				sb.WriteString(fmt.Sprintf("... и еще %d", len(list)-maxListedJobs))
				break
			}
			sb.WriteString(fmt.Sprintf("<code>%s</code> %s\n", html.EscapeString(j.ID), j.NextRunAt.In(location).Format("02.01 15:04:05")))
		}
		return c.Send(sb.String(), htmlSend)
	}))
}

func formatSettings(gs *settings.GroupSettings) string {
	status := "выключено"
	if gs.ActivityStatus {
		status = "включено"
	}
	return fmt.Sprintf("<b>Настройки форума</b>\n\nАвтозакрытие: %s\nПредупреждение через: %d мин.\nЗакрытие через: %d мин.\n"+
		"Иконки: <code>%s</code> / <code>%s</code> / <code>%s</code>",
		status, gs.ActivityWarnMinutes, gs.ActivityCloseMinutes,
		orDash(gs.EmojiOpen), orDash(gs.EmojiInProgress), orDash(gs.EmojiClosed))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return html.EscapeString(s)
}
