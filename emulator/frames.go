package emulator

import (
	"evsim/internal"
	"evsim/metrics/counters"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	frameLogSize    = 100
	FrameDataType   = "frame"
	archiveCapacity = 256
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

type FrameType string

const (
	FrameCall       FrameType = "CALL"
	FrameCallResult FrameType = "CALLRESULT"
	FrameCallError  FrameType = "CALLERROR"
	FrameOpen       FrameType = "OPEN"
	FrameClose      FrameType = "CLOSE"
	FrameError      FrameType = "ERROR"
	FrameParseError FrameType = "PARSE_ERR"
)

// Frame is one entry of the protocol log shown to operators.
type Frame struct {
	ChargePointId string    `json:"charge_point_id" bson:"charge_point_id"`
	Time          time.Time `json:"ts" bson:"ts"`
	Direction     Direction `json:"dir" bson:"dir"`
	Type          FrameType `json:"type" bson:"type"`
	Action        string    `json:"action,omitempty" bson:"action"`
	UniqueId      string    `json:"id,omitempty" bson:"unique_id"`
	Raw           string    `json:"raw" bson:"raw"`
}

func (f *Frame) DataType() string {
	return FrameDataType
}

// FrameSink receives every logged frame. Implementations must not block.
type FrameSink interface {
	WriteFrame(frame *Frame)
}

// FrameLog keeps the latest frames of one charge point, newest first.
type FrameLog struct {
	mutex  sync.RWMutex
	frames []Frame
	limit  int
	sinks  []FrameSink
}

func NewFrameLog(limit int, sinks ...FrameSink) *FrameLog {
	if limit <= 0 {
		limit = frameLogSize
	}
	return &FrameLog{
		frames: make([]Frame, 0, limit),
		limit:  limit,
		sinks:  sinks,
	}
}

func (l *FrameLog) Add(frame Frame) {
	l.mutex.Lock()
	if len(l.frames) < l.limit {
		l.frames = append(l.frames, Frame{})
	}
	copy(l.frames[1:], l.frames[:len(l.frames)-1])
	l.frames[0] = frame
	l.mutex.Unlock()

	for _, sink := range l.sinks {
		sink.WriteFrame(&frame)
	}
}

func (l *FrameLog) List() []Frame {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	frames := make([]Frame, len(l.frames))
	copy(frames, l.frames)
	return frames
}

// MetricsSink counts frames by direction and type.
type MetricsSink struct{}

func (MetricsSink) WriteFrame(frame *Frame) {
	counters.CountFrame(frame.ChargePointId, string(frame.Direction), string(frame.Type))
}

// FrameWriter stores documents in a named collection, see internal.MongoDB.
type FrameWriter interface {
	Write(table string, data internal.Data) error
}

// FrameArchive writes frames to the database from its own goroutine; frames are dropped
// while the buffer is full.
type FrameArchive struct {
	database FrameWriter
	table    string
	logger   internal.LogHandler
	frames   chan *Frame
	dropped  atomic.Int64
}

func NewFrameArchive(database FrameWriter, table string, logger internal.LogHandler) *FrameArchive {
	archive := &FrameArchive{
		database: database,
		table:    table,
		logger:   logger,
		frames:   make(chan *Frame, archiveCapacity),
	}
	go archive.start()
	return archive
}

func (a *FrameArchive) WriteFrame(frame *Frame) {
	select {
	case a.frames <- frame:
	default:
		dropped := a.dropped.Add(1)
		if dropped%archiveCapacity == 1 {
			a.logger.Warn(fmt.Sprintf("frame archive is behind, %d frames dropped", dropped))
		}
	}
}

func (a *FrameArchive) start() {
	for frame := range a.frames {
		if err := a.database.Write(a.table, frame); err != nil {
			a.logger.Error("archive frame", err)
		}
	}
}
