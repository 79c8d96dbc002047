package server

import (
	"context"
	"encoding/json"
	"errors"
	"evsim/emulator"
	"evsim/internal"
	"evsim/ocpp"
	"fmt"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

const maxBodySize = 1 << 20

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if s.logReader == nil {
		s.writeJson(w, http.StatusOK, []internal.FeatureLogMessage{})
		return
	}
	messages, err := s.logReader.ReadLog()
	if err != nil {
		s.logger.Error("api: read log", err)
		s.writeJson(w, http.StatusInternalServerError, errorResponse{Code: "failed", Message: err.Error()})
		return
	}
	s.writeJson(w, http.StatusOK, messages)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJson(w, http.StatusOK, s.controller.List())
}

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	snapshot, ok := s.controller.Snapshot(id)
	if !ok {
		s.writeError(w, fmt.Errorf("%w: %s", emulator.ErrUnknownChargePoint, id))
		return
	}
	s.writeJson(w, http.StatusOK, snapshot)
}

func (s *Server) handleFrames(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	frames, ok := s.controller.Frames(id)
	if !ok {
		s.writeError(w, fmt.Errorf("%w: %s", emulator.ErrUnknownChargePoint, id))
		return
	}
	s.writeJson(w, http.StatusOK, frames)
}

// handleCommand reads the optional command body; the action and charge point come from the route.
func (s *Server) handleCommand(action string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		var command emulator.Command
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			s.logger.Warn(fmt.Sprintf("api: error reading body from %s: %s", r.RemoteAddr, err))
			s.writeError(w, fmt.Errorf("%w: %s", emulator.ErrInvalidCommand, err))
			return
		}
		if len(body) > 0 {
			if err = json.Unmarshal(body, &command); err != nil {
				s.logger.Warn(fmt.Sprintf("api: error parsing command from %s: %s", r.RemoteAddr, err))
				s.writeError(w, fmt.Errorf("%w: %s", emulator.ErrInvalidCommand, err))
				return
			}
		}
		command.Action = action
		command.ChargePointId = params.ByName("id")

		ctx, cancel := context.WithTimeout(r.Context(), s.callTimeout)
		defer cancel()
		result, err := s.controller.Execute(ctx, &command)
		if err != nil {
			s.logger.Warn(fmt.Sprintf("api: %s %s: %s", action, command.ChargePointId, err))
			s.writeError(w, err)
			return
		}
		s.writeJson(w, http.StatusOK, result)
	}
}

func (s *Server) writeJson(w http.ResponseWriter, status int, value interface{}) {
	var data []byte
	var err error
	if raw, ok := value.(json.RawMessage); ok {
		data = raw
	} else if data, err = json.Marshal(value); err != nil {
		s.logger.Error("api: encode response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err = w.Write(data); err != nil {
		s.logger.Error("api: write response", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJson(w, statusOf(err), errorResponse{Code: emulator.ErrorCode(err), Message: err.Error()})
}

func statusOf(err error) int {
	var ocppErr *ocpp.Error
	switch {
	case errors.As(err, &ocppErr):
		return http.StatusBadGateway
	case errors.Is(err, emulator.ErrInvalidCommand), errors.Is(err, emulator.ErrUnknownConnector):
		return http.StatusBadRequest
	case errors.Is(err, emulator.ErrUnknownChargePoint):
		return http.StatusNotFound
	case errors.Is(err, emulator.ErrAlreadyConnected), errors.Is(err, emulator.ErrConnectorBusy),
		errors.Is(err, emulator.ErrNoTransaction), errors.Is(err, ocpp.ErrNotConnected),
		errors.Is(err, ocpp.ErrConnectionClosed):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
