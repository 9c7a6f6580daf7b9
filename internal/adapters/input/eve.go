package input

import (
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

var (
	ErrInvalidRecord = errors.New("invalid EVE record")
	ErrEmptyLine     = errors.New("empty line")
)

// EVEDecoder decodes Suricata EVE JSON lines. Only event_type, flow_id, tx_id
// and http.url are read; every other field is ignored.
//
// Parsers are pooled so a decoder can be shared, though the pipeline only
// calls it from one goroutine.
type EVEDecoder struct {
	parsers fastjson.ParserPool
}

func NewEVEDecoder() *EVEDecoder {
	return &EVEDecoder{}
}

func (d *EVEDecoder) Decode(line string) (*domain.LogRecord, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrEmptyLine
	}

	p := d.parsers.Get()
	defer d.parsers.Put(p)

	v, err := p.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: top-level %s, want object", ErrInvalidRecord, v.Type())
	}

	rawType := string(v.GetStringBytes("event_type"))
	rec := &domain.LogRecord{
		EventType: domain.ParseEventType(rawType),
		RawType:   rawType,
		FlowID:    flowID(v.Get("flow_id")),
		TxID:      txID(v.Get("tx_id")),
		URL:       strings.TrimSpace(string(v.GetStringBytes("http", "url"))),
		Line:      line,
	}
	return rec, nil
}

// flowID keeps the identifier as its JSON text. Suricata emits 64-bit flow
// ids that do not survive a float64 round trip.
func flowID(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNull:
		return ""
	default:
		return v.String()
	}
}

func txID(v *fastjson.Value) int64 {
	if v == nil || v.Type() != fastjson.TypeNumber {
		return domain.NoTxID
	}
	n, err := v.Int64()
	if err != nil {
		return domain.NoTxID
	}
	return n
}
