package session

import (
	"encoding/json"
	"fmt"

	"livecast/internal/core/domain"

	"go.uber.org/zap"
)

// HandlerFunc consumes one inbound payload.
type HandlerFunc func(payload json.RawMessage) error

// Dispatcher maps inbound message kinds to a single transition function
// each. Every controller owns one, replacing scattered per-event wiring, so
// the possible interleavings stay auditable.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *zap.SugaredLogger
}

func NewDispatcher(logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register binds a message kind to its handler. Last registration wins.
func (d *Dispatcher) Register(kind string, fn HandlerFunc) {
	d.handlers[kind] = fn
}

// Dispatch routes one envelope. Handler errors and panics degrade to log
// lines; they never escape into the transport's read loop.
func (d *Dispatcher) Dispatch(env domain.Envelope) {
	fn, ok := d.handlers[env.Type]
	if !ok {
		d.logger.Debugw("unhandled message kind", "kind", env.Type)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("handler panicked", "kind", env.Type, "panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := fn(env.Payload); err != nil {
		d.logger.Warnw("message handling failed", "kind", env.Type, "error", err)
	}
}
