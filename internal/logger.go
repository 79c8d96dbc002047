package internal

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

type Importance string

const (
	Info    Importance = " "
	Warning Importance = "?"
	Error   Importance = "!"
	Raw     Importance = "-"
)

// LogWriter persists log messages, MongoDB in production.
type LogWriter interface {
	WriteLogMessage(data Data) error
}

type Logger struct {
	backend   *logrus.Logger
	database  LogWriter
	location  *time.Location
	debugMode bool
	writer    chan *LogEvent
}

type LogEvent struct {
	Importance Importance
	Message    *FeatureLogMessage
}

func NewLogger(location *time.Location) *Logger {
	if location == nil {
		location = time.UTC
	}
	backend := logrus.New()
	backend.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	backend.SetLevel(logrus.InfoLevel)
	logger := &Logger{
		backend:  backend,
		location: location,
		writer:   make(chan *LogEvent, 100),
	}
	go logger.startWriter()
	return logger
}

func (l *Logger) startWriter() {
	for event := range l.writer {
		message := event.Message
		l.logLine(event.Importance, message)

		if l.database != nil && event.Importance != Raw {
			if err := l.database.WriteLogMessage(message); err != nil {
				l.backend.WithError(err).Error("write log to database failed")
			}
		}
	}
}

func (l *Logger) SetDebugMode(debugMode bool) {
	l.debugMode = debugMode
	if debugMode {
		l.backend.SetLevel(logrus.DebugLevel)
	} else {
		l.backend.SetLevel(logrus.InfoLevel)
	}
}

func (l *Logger) SetDatabase(database LogWriter) {
	l.database = database
}

func (l *Logger) SetOutput(output io.Writer) {
	l.backend.SetOutput(output)
}

func logTime(t time.Time) string {
	timeString := fmt.Sprintf("%d-%02d-%02d %02d:%02d:%02d", t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
	return timeString
}

func (l *Logger) FeatureEvent(feature, id, text string) {
	l.logEvent(Info, l.newFeatureLogMessage(feature, id, text))
}

func (l *Logger) logEvent(importance Importance, message *FeatureLogMessage) {
	if message.ChargePointId == "" {
		message.ChargePointId = "*"
	}
	message.Importance = string(importance)
	l.writer <- &LogEvent{
		Importance: importance,
		Message:    message,
	}
}

func (l *Logger) Debug(text string) {
	l.logEvent(Info, l.newFeatureLogMessage("info", "", text))
}

func (l *Logger) Warn(text string) {
	l.logEvent(Warning, l.newFeatureLogMessage("warning", "", text))
}

func (l *Logger) Error(text string, err error) {
	l.logEvent(Error, l.newFeatureLogMessage("error", "", fmt.Sprintf("%s: %s", text, err)))
}

func (l *Logger) RawDataEvent(direction, id, data string) {
	if l.debugMode {
		l.logEvent(Raw, l.newFeatureLogMessage("raw", id, fmt.Sprintf("%s: %s", direction, data)))
	}
}

func (l *Logger) logLine(importance Importance, message *FeatureLogMessage) {
	entry := l.backend.WithFields(logrus.Fields{
		"client":  message.ChargePointId,
		"feature": message.Feature,
	})
	text := fmt.Sprintf("[%s] %s: %s", message.ChargePointId, message.Feature, message.Text)
	switch importance {
	case Error:
		entry.Error(text)
	case Warning:
		entry.Warn(text)
	case Raw:
		entry.Debug(text)
	default:
		entry.Info(text)
	}
}

func (l *Logger) newFeatureLogMessage(feature, id, text string) *FeatureLogMessage {
	now := time.Now()
	return &FeatureLogMessage{
		Time:          logTime(now.In(l.location)),
		TimeStamp:     now.UTC(),
		Text:          text,
		Feature:       feature,
		ChargePointId: id,
	}
}
