package iso7816

import (
	"fmt"
	"log/slog"
)

// LogTracer writes traced APDUs to a structured logger at debug level.
type LogTracer struct {
	Logger *slog.Logger
}

// NewLogTracer returns a tracer bound to logger (slog.Default() if nil).
func NewLogTracer(logger *slog.Logger) *LogTracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTracer{Logger: logger}
}

func (t *LogTracer) TraceCommand(raw []byte) {
	t.Logger.Debug("apdu command", "raw", fmt.Sprintf("%X", raw))
}

func (t *LogTracer) TraceResponse(raw []byte) {
	resp, err := ParseResponseAPDU(raw)
	if err != nil {
		t.Logger.Debug("apdu response", "raw", fmt.Sprintf("%X", raw))
		return
	}
	t.Logger.Debug("apdu response",
		"data", fmt.Sprintf("%X", resp.Data),
		"sw", fmt.Sprintf("%04X", uint16(resp.Status)),
	)
}

// Tracers fans out to several tracers in order.
type Tracers []Tracer

func (ts Tracers) TraceCommand(raw []byte) {
	for _, t := range ts {
		t.TraceCommand(raw)
	}
}

func (ts Tracers) TraceResponse(raw []byte) {
	for _, t := range ts {
		t.TraceResponse(raw)
	}
}
