package broker

import (
	"context"
	"encoding/json"
	"evsim/emulator"
	"evsim/internal"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const natsFeature = "NATS"

// Executor runs operator commands, see emulator.Manager.
type Executor interface {
	Execute(ctx context.Context, command *emulator.Command) (interface{}, error)
}

type Response struct {
	Result interface{}    `json:"result,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewResponse wraps a command outcome for the wire.
func NewResponse(result interface{}, err error) Response {
	if err != nil {
		return Response{Error: &ResponseError{Code: emulator.ErrorCode(err), Message: err.Error()}}
	}
	return Response{Result: result}
}

// NatsFeed publishes every logged frame to <prefix>.<chargePointId>.frames and answers
// operator commands sent as requests to <prefix>.command.
type NatsFeed struct {
	conn         *nats.Conn
	prefix       string
	timeout      time.Duration
	logger       internal.LogHandler
	subscription *nats.Subscription
}

func NewNatsFeed(url, prefix string, timeout time.Duration, logger internal.LogHandler) (*NatsFeed, error) {
	conn, err := nats.Connect(url,
		nats.Name("evsim"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(fmt.Sprintf("nats disconnected: %s", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.FeatureEvent(natsFeature, "", fmt.Sprintf("reconnected to %s", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return newNatsFeed(conn, prefix, timeout, logger), nil
}

func newNatsFeed(conn *nats.Conn, prefix string, timeout time.Duration, logger internal.LogHandler) *NatsFeed {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NatsFeed{
		conn:    conn,
		prefix:  prefix,
		timeout: timeout,
		logger:  logger,
	}
}

func (f *NatsFeed) FramesSubject(chargePointId string) string {
	return fmt.Sprintf("%s.%s.frames", f.prefix, chargePointId)
}

func (f *NatsFeed) CommandSubject() string {
	return f.prefix + ".command"
}

// WriteFrame implements emulator.FrameSink; the client buffers outgoing messages so it does
// not block the charge point.
func (f *NatsFeed) WriteFrame(frame *emulator.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		f.logger.Error("nats: encode frame", err)
		return
	}
	if err = f.conn.Publish(f.FramesSubject(frame.ChargePointId), data); err != nil {
		f.logger.Warn(fmt.Sprintf("nats: publish frame of %s: %s", frame.ChargePointId, err))
	}
}

// Serve subscribes to the command subject; each request runs in its own goroutine.
func (f *NatsFeed) Serve(executor Executor) error {
	subscription, err := f.conn.Subscribe(f.CommandSubject(), func(m *nats.Msg) {
		go f.handleCommand(executor, m)
	})
	if err != nil {
		return err
	}
	f.subscription = subscription
	f.logger.FeatureEvent(natsFeature, "", fmt.Sprintf("listening for commands on %s", f.CommandSubject()))
	return nil
}

func (f *NatsFeed) handleCommand(executor Executor, m *nats.Msg) {
	var response Response
	var command emulator.Command
	if err := json.Unmarshal(m.Data, &command); err != nil {
		response = NewResponse(nil, fmt.Errorf("%w: %s", emulator.ErrInvalidCommand, err))
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		result, err := executor.Execute(ctx, &command)
		cancel()
		if err != nil {
			f.logger.Warn(fmt.Sprintf("nats: %s command for %s: %s", command.Action, command.ChargePointId, err))
		}
		response = NewResponse(result, err)
	}

	data, err := json.Marshal(response)
	if err != nil {
		f.logger.Error("nats: encode response", err)
		return
	}
	if m.Reply == "" {
		return
	}
	if err = m.Respond(data); err != nil {
		f.logger.Warn(fmt.Sprintf("nats: respond to %s: %s", m.Subject, err))
	}
}

// Close stops accepting commands and flushes pending frames.
func (f *NatsFeed) Close() {
	if f.subscription != nil {
		if err := f.subscription.Unsubscribe(); err != nil {
			f.logger.Warn(fmt.Sprintf("nats: unsubscribe %s: %s", f.CommandSubject(), err))
		}
	}
	if f.conn == nil {
		return
	}
	if err := f.conn.Drain(); err != nil {
		f.logger.Warn(fmt.Sprintf("nats: drain: %s", err))
	}
}
