package otel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

// recordEmitter is the part of otellog.Logger the slog bridge uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// SlogHandler is a slog.Handler that forwards records to an OTel Logger.
type SlogHandler struct {
	logger recordEmitter
	level  slog.Leveler
	attrs  []otellog.KeyValue
	prefix string
}

// NewSlogHandler returns a handler emitting through provider's logger for scope. Records below level
// are dropped. If provider is nil, it returns nil and callers should skip the bridge.
func NewSlogHandler(provider otellog.LoggerProvider, scope string, level slog.Leveler) *SlogHandler {
	if provider == nil {
		return nil
	}
	return newSlogHandler(provider.Logger(scope), level)
}

func newSlogHandler(logger recordEmitter, level slog.Leveler) *SlogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &SlogHandler{logger: logger, level: level}
}

// Enabled reports whether level passes the handler's minimum level.
func (h *SlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle converts r into an OTel log record. The span in ctx, if any, is attached by the SDK.
func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	var rec otellog.Record
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now())
	rec.SetBody(otellog.StringValue(r.Message))
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(convertAttr(h.prefix, a)...)
		return true
	})
	h.logger.Emit(ctx, rec)
	return nil
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = append([]otellog.KeyValue(nil), h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, convertAttr(h.prefix, a)...)
	}
	return &h2
}

// WithGroup returns a handler that qualifies later attribute keys with name.
func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

// severity maps slog levels onto the OTel severity scale (DEBUG=5, INFO=9, WARN=13, ERROR=17).
func severity(level slog.Level) otellog.Severity {
	return otellog.Severity(int(level) + int(otellog.SeverityInfo))
}

func convertAttr(prefix string, a slog.Attr) []otellog.KeyValue {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return nil
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		var out []otellog.KeyValue
		for _, ga := range group {
			out = append(out, convertAttr(p, ga)...)
		}
		return out
	}
	if a.Key == "" {
		return nil
	}
	return []otellog.KeyValue{{Key: prefix + a.Key, Value: convertValue(a.Value)}}
}

func convertValue(v slog.Value) otellog.Value {
	switch v.Kind() {
	case slog.KindString:
		return otellog.StringValue(v.String())
	case slog.KindInt64:
		return otellog.Int64Value(v.Int64())
	case slog.KindUint64:
		return otellog.Int64Value(int64(v.Uint64()))
	case slog.KindFloat64:
		return otellog.Float64Value(v.Float64())
	case slog.KindBool:
		return otellog.BoolValue(v.Bool())
	case slog.KindDuration:
		return otellog.StringValue(v.Duration().String())
	case slog.KindTime:
		return otellog.StringValue(v.Time().Format(time.RFC3339Nano))
	case slog.KindGroup:
		var kvs []otellog.KeyValue
		for _, a := range v.Group() {
			kvs = append(kvs, convertAttr("", a)...)
		}
		return otellog.MapValue(kvs...)
	default:
		switch x := v.Any().(type) {
		case error:
			return otellog.StringValue(x.Error())
		case []byte:
			return otellog.BytesValue(x)
		case fmt.Stringer:
			return otellog.StringValue(x.String())
		default:
			return otellog.StringValue(strings.TrimSpace(fmt.Sprint(x)))
		}
	}
}
