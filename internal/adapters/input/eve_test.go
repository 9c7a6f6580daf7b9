package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

func TestEVEDecoder(t *testing.T) {
	decoder := NewEVEDecoder()

	tests := []struct {
		name     string
		line     string
		wantErr  bool
		wantType domain.EventType
		wantRaw  string
		wantFlow string
		wantTx   int64
		wantURL  string
	}{
		{
			name:     "http event",
			line:     `{"timestamp":"2025-06-01T10:00:00.000000+0000","flow_id":1523406219846283,"event_type":"http","src_ip":"10.0.0.5","tx_id":0,"http":{"hostname":"shop.local","url":"/index.php?id=1","http_method":"GET","status":200}}`,
			wantType: domain.EventTypeHTTP,
			wantRaw:  "http",
			wantFlow: "1523406219846283",
			wantTx:   0,
			wantURL:  "/index.php?id=1",
		},
		{
			name:     "alert event",
			line:     `{"event_type":"alert","flow_id":2251799813685249,"tx_id":3,"alert":{"signature":"ET WEB_SERVER SQL Injection"},"http":{"url":"/login?user=%27OR%271%27%3D%271"}}`,
			wantType: domain.EventTypeAlert,
			wantRaw:  "alert",
			wantFlow: "2251799813685249",
			wantTx:   3,
			wantURL:  "/login?user=%27OR%271%27%3D%271",
		},
		{
			name:     "64-bit flow id keeps every digit",
			line:     `{"event_type":"http","flow_id":18446744073709551615,"tx_id":1,"http":{"url":"/a"}}`,
			wantType: domain.EventTypeHTTP,
			wantRaw:  "http",
			wantFlow: "18446744073709551615",
			wantTx:   1,
			wantURL:  "/a",
		},
		{
			name:     "string flow id",
			line:     `{"event_type":"http","flow_id":"abc","tx_id":2,"http":{"url":"/b"}}`,
			wantType: domain.EventTypeHTTP,
			wantRaw:  "http",
			wantFlow: "abc",
			wantTx:   2,
			wantURL:  "/b",
		},
		{
			name:     "missing http object",
			line:     `{"event_type":"http","flow_id":1,"tx_id":0}`,
			wantType: domain.EventTypeHTTP,
			wantRaw:  "http",
			wantFlow: "1",
			wantTx:   0,
			wantURL:  "",
		},
		{
			name:     "url whitespace trimmed",
			line:     `{"event_type":"http","flow_id":1,"tx_id":0,"http":{"url":"  /padded  "}}`,
			wantType: domain.EventTypeHTTP,
			wantRaw:  "http",
			wantFlow: "1",
			wantURL:  "/padded",
		},
		{
			name:     "missing tx id",
			line:     `{"event_type":"alert","flow_id":7,"http":{"url":"/x"}}`,
			wantType: domain.EventTypeAlert,
			wantRaw:  "alert",
			wantFlow: "7",
			wantTx:   domain.NoTxID,
			wantURL:  "/x",
		},
		{
			name:     "other event type",
			line:     `{"event_type":"dns","flow_id":9,"dns":{"rrname":"example.com"}}`,
			wantType: domain.EventTypeOther,
			wantRaw:  "dns",
			wantFlow: "9",
			wantTx:   domain.NoTxID,
		},
		{
			name:     "missing event type",
			line:     `{"flow_id":9}`,
			wantType: domain.EventTypeOther,
			wantFlow: "9",
			wantTx:   domain.NoTxID,
		},
		{
			name:    "truncated json",
			line:    `{"event_typ`,
			wantErr: true,
		},
		{
			name:    "array",
			line:    `[1,2,3]`,
			wantErr: true,
		},
		{
			name:    "empty",
			line:    "   ",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := decoder.Decode(tc.line)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, tc.wantType, rec.EventType)
			assert.Equal(t, tc.wantRaw, rec.RawType)
			assert.Equal(t, tc.wantFlow, rec.FlowID)
			assert.Equal(t, tc.wantTx, rec.TxID)
			assert.Equal(t, tc.wantURL, rec.URL)
		})
	}
}

func TestEVEDecoderErrors(t *testing.T) {
	decoder := NewEVEDecoder()

	_, err := decoder.Decode("")
	assert.ErrorIs(t, err, ErrEmptyLine)

	_, err = decoder.Decode("not json")
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = decoder.Decode(`"string"`)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func BenchmarkEVEDecoder(b *testing.B) {
	decoder := NewEVEDecoder()
	line := `{"timestamp":"2025-06-01T10:00:00.000000+0000","flow_id":1523406219846283,"in_iface":"eth0","event_type":"http","src_ip":"10.0.0.5","src_port":51234,"dest_ip":"10.0.0.1","dest_port":80,"proto":"TCP","tx_id":0,"http":{"hostname":"shop.local","url":"/index.php?id=1","http_user_agent":"curl/8.14.1","http_method":"GET","protocol":"HTTP/1.1","status":200,"length":512}}`
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decoder.Decode(line)
	}
}
