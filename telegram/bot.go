package telegram

import (
	"evsim/emulator"
	"evsim/internal"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

const featureName = "Telegram"

// StatusSource lists the charge points for the /status command, see emulator.Manager.
type StatusSource interface {
	List() []emulator.Snapshot
}

// TgBot implements EventHandler
type TgBot struct {
	api         *tgbotapi.BotAPI
	source      StatusSource
	logger      internal.LogHandler
	mutex       sync.RWMutex
	subscribers map[int64]string
	event       chan MessageContent
	send        chan MessageContent
}

type MessageContent struct {
	ChatID int64
	Text   string
}

func NewBot(apiKey string, logger internal.LogHandler) (*TgBot, error) {
	api, err := tgbotapi.NewBotAPI(apiKey)
	if err != nil {
		return nil, err
	}
	bot := newBot(logger)
	bot.api = api
	return bot, nil
}

func newBot(logger internal.LogHandler) *TgBot {
	return &TgBot{
		logger:      logger,
		subscribers: make(map[int64]string),
		event:       make(chan MessageContent, 100),
		send:        make(chan MessageContent, 100),
	}
}

// SetStatusSource attach the charge point list
func (b *TgBot) SetStatusSource(source StatusSource) {
	b.source = source
}

// Subscribe adds a chat that receives every event.
func (b *TgBot) Subscribe(chatId int64, name string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.subscribers[chatId] = name
}

func (b *TgBot) Unsubscribe(chatId int64) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.subscribers, chatId)
}

func (b *TgBot) Start() {
	go b.sendPump()
	go b.eventPump()
	go b.updatesPump()
}

// Start listening for updates
func (b *TgBot) updatesPump() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		b.logger.Error("bot: getting updates", err)
		return
	}
	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}
		chatId := update.Message.Chat.ID
		switch update.Message.Command() {
		case "start":
			b.Subscribe(chatId, update.Message.From.UserName)
			b.logger.FeatureEvent(featureName, "", fmt.Sprintf("%s subscribed", update.Message.From.UserName))
			b.send <- MessageContent{ChatID: chatId, Text: fmt.Sprintf("Hello *%v*, you are now subscribed to updates", sanitize(update.Message.From.UserName))}
		case "stop":
			b.Unsubscribe(chatId)
			b.send <- MessageContent{ChatID: chatId, Text: "Your subscription has been removed"}
		case "status":
			b.send <- MessageContent{ChatID: chatId, Text: b.composeStatusMessage()}
		}
	}
}

// eventPump sending events to all subscribers
func (b *TgBot) eventPump() {
	for event := range b.event {
		b.mutex.RLock()
		chats := make([]int64, 0, len(b.subscribers))
		for chatId := range b.subscribers {
			chats = append(chats, chatId)
		}
		b.mutex.RUnlock()
		for _, chatId := range chats {
			b.sendMessage(chatId, event.Text)
		}
	}
}

// sendPump sending messages to users
func (b *TgBot) sendPump() {
	for message := range b.send {
		b.sendMessage(message.ChatID, message.Text)
	}
}

// sendMessage common routine to send a message via bot API
func (b *TgBot) sendMessage(id int64, text string) {
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "MarkdownV2"
	_, err := b.api.Send(msg)
	if err != nil {
		// maybe error was while parsing, so we can send a message about this error
		msg = tgbotapi.NewMessage(id, fmt.Sprintf("Error: %v", err))
		_, err = b.api.Send(msg)
		if err != nil {
			b.logger.Error("bot: sending message", err)
		}
	}
}

// post queues an event message; events are dropped while the queue is full so a slow
// Telegram API never stalls a charge point.
func (b *TgBot) post(text string) {
	select {
	case b.event <- MessageContent{Text: text}:
	default:
		b.logger.Warn("bot: event queue is full, message dropped")
	}
}

func (b *TgBot) OnStatusNotification(event *internal.EventMessage) {
	if event.Type == internal.EventConnectionChanged {
		b.post(fmt.Sprintf("*%v*: `%v`\n", sanitize(event.ChargePointId), event.Status))
		return
	}
	// don`t send status updates for charger itself, only for connectors
	if event.ConnectorId == 0 {
		return
	}
	msg := fmt.Sprintf("*%v*: Connector %v: `%v`\n", sanitize(event.ChargePointId), event.ConnectorId, event.Status)
	if event.TransactionId > 0 {
		msg += fmt.Sprintf("Transaction ID: %v\n", event.TransactionId)
	}
	if event.Info != "" {
		msg += fmt.Sprintf("%v\n", sanitize(event.Info))
	}
	b.post(msg)
}

func (b *TgBot) OnTransactionStart(event *internal.EventMessage) {
	msg := fmt.Sprintf("*%v*: Connector %v: `%v`\n", sanitize(event.ChargePointId), event.ConnectorId, event.Status)
	msg += fmt.Sprintf("Transaction ID: %v START\n", event.TransactionId)
	msg += fmt.Sprintf("ID Tag: %v\n", sanitize(event.IdTag))
	b.post(msg)
}

func (b *TgBot) OnTransactionStop(event *internal.EventMessage) {
	msg := fmt.Sprintf("*%v*: Connector %v: `%v`\n", sanitize(event.ChargePointId), event.ConnectorId, event.Status)
	msg += fmt.Sprintf("Transaction ID: %v STOP\n", event.TransactionId)
	msg += fmt.Sprintf("ID Tag: %v\n", sanitize(event.IdTag))
	if event.Info != "" {
		msg += fmt.Sprintf("Info: %v\n", sanitize(event.Info))
	}
	b.post(msg)
}

// OnMeterValues only reports a completed charge; regular samples are too frequent for a chat.
func (b *TgBot) OnMeterValues(event *internal.EventMessage) {
	if event.Type != internal.EventChargeComplete {
		return
	}
	msg := fmt.Sprintf("*%v*: Connector %v: `%v`\n", sanitize(event.ChargePointId), event.ConnectorId, event.Status)
	msg += fmt.Sprintf("Transaction ID: %v COMPLETE\n", event.TransactionId)
	msg += fmt.Sprintf("Info: %v\n", sanitize(event.Info))
	b.post(msg)
}

// compose status message
func (b *TgBot) composeStatusMessage() string {
	msg := "Status info:\n"
	msg += "\n"
	if b.source != nil {
		for _, snapshot := range b.source.List() {
			msg += fmt.Sprintf("*%v*: `%v`\n", sanitize(snapshot.Id), snapshot.Status)
			for _, c := range snapshot.Connectors {
				msg += fmt.Sprintf("Connector %v: `%v`", c.Id, c.Status)
				if c.TransactionId != nil {
					msg += sanitize(fmt.Sprintf(" tx %d, %.1f kW, %.1f%%", *c.TransactionId, c.Meter.PowerKW, c.Meter.SocPct))
				}
				msg += "\n"
			}
			msg += "\n"
		}
	}
	b.mutex.RLock()
	msg += fmt.Sprintf("Active subscriptions: %v", len(b.subscribers))
	b.mutex.RUnlock()
	return msg
}

func sanitize(input string) string {
	reservedChars := "\\`*_{}[]()#+-.!|%>=~"
	var sanitized strings.Builder
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sanitized.WriteRune('\\')
		}
		sanitized.WriteRune(char)
	}
	return sanitized.String()
}
