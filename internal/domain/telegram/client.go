package telegram

import "gopkg.in/telebot.v3"

// Client defines the Telegram operations the application needs.
// This helps in decoupling the application logic from the specific bot library.
type Client interface {
	// SendMessage sends text to a chat and returns the new message ID.
	// A non-zero topicID posts into that forum topic.
	SendMessage(chatID int64, topicID int, text string, options *telebot.SendOptions) (int, error)
	CopyMessage(toChatID int64, toTopicID int, fromChatID int64, messageID int) (int, error)
	DeleteMessage(chatID int64, messageID int) error
	EditMessageText(chatID int64, messageID int, text string, options *telebot.SendOptions) error
	EditMessageCaption(chatID int64, messageID int, caption string, options *telebot.SendOptions) error

	CreateTopic(chatID int64, name string) (int, error)
	// EditTopic changes name and icon. Empty values are left as they are.
	EditTopic(chatID int64, topicID int, name, iconEmojiID string) error
	CloseTopic(chatID int64, topicID int) error
	ReopenTopic(chatID int64, topicID int) error
	DeleteTopic(chatID int64, topicID int) error
}
