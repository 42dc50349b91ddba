package pipeline

import (
	"fmt"
	"time"

	"github.com/valyala/fastjson"

	"github.com/telhawk-systems/cloudlog/internal/event"
	"github.com/telhawk-systems/cloudlog/internal/logging"
)

// stagingRoot holds the decoded LogEntry until the record is finalized.
const stagingRoot = "json"

var parsers fastjson.ParserPool

// decodeJSON parses the raw message into a nested document. Integers stay int64 so that
// status codes compare exactly.
type decodeJSON struct {
	from string
	to   string
}

func (d *decodeJSON) Name() string { return "decode_json" }

func (d *decodeJSON) Run(r *event.Record) error {
	raw, ok := r.Fields.GetString(d.from)
	if !ok {
		return fmt.Errorf("%w: %s is missing or not a string", ErrDecode, d.from)
	}

	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if v.Type() != fastjson.TypeObject {
		return fmt.Errorf("%w: got %s", ErrDecode, v.Type())
	}
	r.Put(d.to, toNative(v))
	return nil
}

// toNative copies a fastjson value out of parser-owned memory.
func toNative(v *fastjson.Value) interface{} {
	switch v.Type() {
	case fastjson.TypeObject:
		o, _ := v.Object()
		m := make(map[string]interface{}, o.Len())
		o.Visit(func(key []byte, item *fastjson.Value) {
			m[string(key)] = toNative(item)
		})
		return m
	case fastjson.TypeArray:
		items, _ := v.Array()
		out := make([]interface{}, 0, len(items))
		for _, item := range items {
			out = append(out, toNative(item))
		}
		return out
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return string(b)
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if n, err := v.Uint64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}

// timestamp sets the record time from the LogEntry. A missing or unparsable value keeps the
// ingestion time.
type timestamp struct {
	field  string
	logger *logging.Logger
}

func (t *timestamp) Name() string { return "parse_timestamp" }

func (t *timestamp) Run(r *event.Record) error {
	raw, ok := r.Fields.GetString(t.field)
	if !ok {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t.logger.Debug("keeping ingestion time", logging.Stage(t.Name()), logging.Error(err))
		return nil
	}
	r.Timestamp = ts.UTC()
	return nil
}

type drop struct {
	name  string
	field string
}

func (d drop) Name() string { return d.name }

func (d drop) Run(r *event.Record) error {
	r.Delete(d.field)
	return nil
}
