// internal/infra/telegram/client.go
package telegram

import (
	"strconv"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the Client interface using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to a chat, or into a forum topic when topicID is set.
func (tba *TelebotAdapter) SendMessage(chatID int64, topicID int, text string, options *telebot.SendOptions) (int, error) {
	opts := &telebot.SendOptions{}
	if options != nil {
		copied := *options
		opts = &copied
	}
	opts.ThreadID = topicID

	msg, err := tba.bot.Send(&telebot.Chat{ID: chatID}, text, opts)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (tba *TelebotAdapter) CopyMessage(toChatID int64, toTopicID int, fromChatID int64, messageID int) (int, error) {
	src := telebot.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: fromChatID}
	msg, err := tba.bot.Copy(&telebot.Chat{ID: toChatID}, src, &telebot.SendOptions{ThreadID: toTopicID})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (tba *TelebotAdapter) DeleteMessage(chatID int64, messageID int) error {
	return tba.bot.Delete(telebot.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID})
}

func (tba *TelebotAdapter) EditMessageText(chatID int64, messageID int, text string, options *telebot.SendOptions) error {
	_, err := tba.bot.Edit(telebot.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}, text, editOptions(options))
	return err
}

func (tba *TelebotAdapter) EditMessageCaption(chatID int64, messageID int, caption string, options *telebot.SendOptions) error {
	_, err := tba.bot.EditCaption(telebot.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}, caption, editOptions(options))
	return err
}

// editOptions drops the fields editing does not take.
func editOptions(options *telebot.SendOptions) *telebot.SendOptions {
	if options == nil {
		return &telebot.SendOptions{}
	}
	return &telebot.SendOptions{ParseMode: options.ParseMode, DisableWebPagePreview: options.DisableWebPagePreview}
}

func (tba *TelebotAdapter) CreateTopic(chatID int64, name string) (int, error) {
	topic, err := tba.bot.CreateTopic(&telebot.Chat{ID: chatID}, &telebot.Topic{Name: name})
	if err != nil {
		return 0, err
	}
	return topic.ThreadID, nil
}

// EditTopic changes name and icon of a topic. telebot skips empty values.
func (tba *TelebotAdapter) EditTopic(chatID int64, topicID int, name, iconEmojiID string) error {
	if name == "" && iconEmojiID == "" {
		return nil
	}
	return tba.bot.EditTopic(&telebot.Chat{ID: chatID}, &telebot.Topic{
		ThreadID:        topicID,
		Name:            name,
		IconCustomEmoji: iconEmojiID,
	})
}

func (tba *TelebotAdapter) CloseTopic(chatID int64, topicID int) error {
	return tba.bot.CloseTopic(&telebot.Chat{ID: chatID}, &telebot.Topic{ThreadID: topicID})
}

func (tba *TelebotAdapter) ReopenTopic(chatID int64, topicID int) error {
	return tba.bot.ReopenTopic(&telebot.Chat{ID: chatID}, &telebot.Topic{ThreadID: topicID})
}

func (tba *TelebotAdapter) DeleteTopic(chatID int64, topicID int) error {
	return tba.bot.DeleteTopic(&telebot.Chat{ID: chatID}, &telebot.Topic{ThreadID: topicID})
}
