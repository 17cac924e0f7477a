package ingest

import (
	"bytes"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pipewatch/pipewatch/monitor/internal/telemetry"
	"github.com/pipewatch/pipewatch/pkg/types"
)

// Source names used in logs and the malformed metric.
const (
	SourceFile  = "file"
	SourceRedis = "redis"
	SourceHTTP  = "http"
)

// Handler receives every validated event.
type Handler func(ev types.JobEvent)

// Decoder turns raw lines from any source into validated JobEvents. Malformed
// lines are dropped, logged at WARN and counted; they never reach the handler.
//
// Decoder is safe for concurrent use as long as handle is.
type Decoder struct {
	catalog   *types.Catalog
	handle    Handler
	sink      telemetry.Sink
	malformed atomic.Int64
	now       func() time.Time
}

// NewDecoder returns a Decoder that validates against catalog and passes
// accepted events to handle.
func NewDecoder(catalog *types.Catalog, handle Handler, sink telemetry.Sink) *Decoder {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	return &Decoder{
		catalog: catalog,
		handle:  handle,
		sink:    sink,
		now:     time.Now,
	}
}

// Line decodes one line received from source. Blank lines are ignored and
// reported as not accepted without counting as malformed.
func (d *Decoder) Line(source string, line []byte) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}

	ev, err := types.ParseLine(line, d.catalog, d.now())
	if err != nil {
		d.malformed.Add(1)
		d.sink.EventMalformed(source)
		slog.Warn("ingest: malformed event dropped",
			"source", source,
			"err", err,
			"line", truncate(line, 256),
		)
		return false
	}

	d.sink.EventIngested(ev.JobName, string(ev.Status))
	d.handle(ev)
	return true
}

// Malformed returns the number of lines dropped since start.
func (d *Decoder) Malformed() int64 {
	return d.malformed.Load()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
