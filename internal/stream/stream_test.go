package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratsim/internal/indicator"
	"stratsim/internal/model"
	"stratsim/internal/simulation"
	"stratsim/internal/strategy"
)

func testDriver(t *testing.T, n int) *simulation.Driver {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + float64(i%7) - float64(i%3)
		bars[i] = model.Bar{Date: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c}
	}
	cfg, err := strategy.Compile(
		[]indicator.RawSpec{{Kind: "SMA", Params: map[string]float64{"window": 3}}},
		nil,
	)
	require.NoError(t, err)
	d, err := simulation.New("TEST", bars, cfg, 1000, simulation.Options{})
	require.NoError(t, err)
	return d
}

type bufWriter struct {
	msgs   [][]byte
	failAt int
}

func (b *bufWriter) WriteMessage(p []byte) error {
	if b.failAt > 0 && len(b.msgs) == b.failAt {
		return errors.New("broken pipe")
	}
	b.msgs = append(b.msgs, append([]byte(nil), p...))
	return nil
}

func TestFrame(t *testing.T) {
	assert.Equal(t, "data: {\"a\":1}\n\n", string(Frame([]byte(`{"a":1}`))))
}

func TestEncode_Shapes(t *testing.T) {
	b, err := Encode(simulation.ErrorEvent{Err: model.ConfigErrorf("ticker", "must not be empty")})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, sonic.Unmarshal(b, &m))
	assert.Equal(t, "error", m["type"])
	assert.Equal(t, "invalid config: ticker: must not be empty", m["message"])
	assert.NotContains(t, m, "data")

	b, err = Encode(simulation.InfoEvent{Info: simulation.Info{Ticker: "TEST", Series: []string{"SMA_3"}}})
	require.NoError(t, err)
	d, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, simulation.EventInfo, d.Type)
	assert.Contains(t, string(d.Data), `"ticker":"TEST"`)
}

func TestEncode_UndefinedIndicatorIsNull(t *testing.T) {
	st := simulation.State{Indicators: indicator.Snapshot{"SMA_3": indicator.Undefined}}
	b, err := Encode(simulation.UpdateEvent{State: st})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"SMA_3":null`)
}

func TestPump_FullRun(t *testing.T) {
	w := &bufWriter{}
	sent := Pump(testDriver(t, 10).Stream(context.Background()), w, nil)
	require.Equal(t, 12, sent)

	first, err := Decode(w.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, simulation.EventInfo, first.Type)
	last, err := Decode(w.msgs[len(w.msgs)-1])
	require.NoError(t, err)
	assert.Equal(t, simulation.EventComplete, last.Type)
	for _, p := range w.msgs[1 : len(w.msgs)-1] {
		d, err := Decode(p)
		require.NoError(t, err)
		assert.Equal(t, simulation.EventUpdate, d.Type)
	}
}

func TestPump_WriteFailureEndsSilently(t *testing.T) {
	w := &bufWriter{failAt: 4}
	sent := Pump(testDriver(t, 30).Stream(context.Background()), w, nil)
	assert.Equal(t, 4, sent)
	assert.Len(t, w.msgs, 4)
}

func TestPump_StopsAfterTerminal(t *testing.T) {
	seq := func(yield func(simulation.Event) bool) {
		if !yield(simulation.ErrorEvent{Err: errors.New("boom")}) {
			return
		}
		yield(simulation.UpdateEvent{})
	}
	w := &bufWriter{}
	assert.Equal(t, 1, Pump(seq, w, nil))
}

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewSSEWriter(rec)
	require.NoError(t, err)

	Pump(testDriver(t, 5).Stream(context.Background()), sw, nil)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: {\"type\":\"info\""))
	assert.True(t, strings.HasSuffix(body, "\n\n"))

	msgs, err := collectFrames(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Len(t, msgs, 7)
	assert.Equal(t, simulation.EventComplete, msgs[6].Type)
}

func collectFrames(r io.Reader) ([]Decoded, error) {
	var out []Decoded
	for d, err := range Frames(r) {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func TestFrames_IgnoresComments(t *testing.T) {
	in := ": keepalive\n\ndata: {\"type\":\"error\",\"message\":\"x\"}\n\n"
	msgs, err := collectFrames(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "x", msgs[0].Message)
}

func TestFrames_UnterminatedAndBroken(t *testing.T) {
	msgs, err := collectFrames(strings.NewReader("data: {\"type\":\"info\"}"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, simulation.EventInfo, msgs[0].Type)

	msgs, err = collectFrames(strings.NewReader("data: {\"type\":\"info\"}\n\ndata: {nope\n\ndata: {\"type\":\"complete\"}\n\n"))
	assert.Error(t, err)
	assert.Len(t, msgs, 1)
}

func TestFrames_StopsWhenConsumerBreaks(t *testing.T) {
	in := strings.Repeat("data: {\"type\":\"update\"}\n\n", 5)
	n := 0
	for range Frames(strings.NewReader(in)) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestWSWriter(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws := NewWSWriter(conn)
		defer ws.Close()
		Pump(testDriver(t, 4).Stream(r.Context()), ws, nil)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var types []simulation.EventType
	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
			break
		}
		d, err := Decode(p)
		require.NoError(t, err)
		types = append(types, d.Type)
	}
	require.Len(t, types, 6)
	assert.Equal(t, simulation.EventInfo, types[0])
	assert.Equal(t, simulation.EventComplete, types[5])
}

func TestWSWriter_ClosedRejectsWrites(t *testing.T) {
	w := &WSWriter{}
	assert.ErrorIs(t, w.WriteMessage([]byte("{}")), ErrClosed)
	assert.NoError(t, w.Close())
}
