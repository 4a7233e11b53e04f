package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"stratsim/internal/auth"
	"stratsim/internal/simulation"
	"stratsim/internal/stream"
)

type watchOpts struct {
	server       string
	strategyPath string
	ticker       string
	speed        float64
	otp          string
	ws           bool
}

func newWatchCmd() *cobra.Command {
	o := &watchOpts{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream a simulation from a running simserver",
		Long: `Sends a strategy file to a simserver and prints each simulated day as it
arrives, over SSE (POST /simulation/stream) or, with --ws, over WebSocket.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.server, "server", "http://localhost:8000", "simserver base URL")
	f.StringVarP(&o.strategyPath, "strategy", "s", "", "strategy request JSON file")
	f.StringVarP(&o.ticker, "ticker", "t", "", "ticker override")
	f.Float64Var(&o.speed, "speed", 0, "playback rate in bars per second (0 = server default)")
	f.StringVar(&o.otp, "otp", "", "one-time code for servers with TOTP enabled")
	f.BoolVar(&o.ws, "ws", false, "use the WebSocket endpoint instead of SSE")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}

func runWatch(cmd *cobra.Command, o *watchOpts) error {
	req, err := loadRequest(o.strategyPath)
	if err != nil {
		return err
	}
	if o.ticker != "" {
		req.Ticker = o.ticker
	}
	if o.speed > 0 {
		s := o.speed
		req.Speed = &s
	}
	body, err := sonic.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	ctx := cmd.Context()
	var frames iter.Seq2[stream.Decoded, error]
	if o.ws {
		conn, err := o.dialWS(ctx, body)
		if err != nil {
			return err
		}
		defer conn.Close()
		frames = wsFrames(conn)
	} else {
		resp, err := o.postSSE(ctx, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		frames = stream.Frames(resp.Body)
	}
	return printFrames(cmd.OutOrStdout(), frames)
}

func (o *watchOpts) postSSE(ctx context.Context, body []byte) (*http.Response, error) {
	url := strings.TrimSuffix(o.server, "/") + "/simulation/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if o.otp != "" {
		req.Header.Set(auth.HeaderOTP, o.otp)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "post stream")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errors.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func (o *watchOpts) dialWS(ctx context.Context, body []byte) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(strings.TrimSuffix(o.server, "/"), "http") + "/simulation/ws"
	header := http.Header{}
	if o.otp != "" {
		header.Set(auth.HeaderOTP, o.otp)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, errors.Wrap(err, "dial websocket")
	}
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "send request")
	}
	return conn, nil
}

// wsFrames yields one decoded message per WebSocket text message until the
// server closes the connection.
func wsFrames(conn *websocket.Conn) iter.Seq2[stream.Decoded, error] {
	return func(yield func(stream.Decoded, error) bool) {
		for {
			_, p, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					yield(stream.Decoded{}, errors.Wrap(err, "read websocket"))
				}
				return
			}
			d, err := stream.Decode(p)
			if !yield(d, err) || err != nil {
				return
			}
		}
	}
}

// printFrames prints each message and returns once a terminal one arrives.
// An error message from the server becomes the returned error.
func printFrames(w io.Writer, frames iter.Seq2[stream.Decoded, error]) error {
	for d, err := range frames {
		if err != nil {
			return err
		}
		switch d.Type {
		case simulation.EventInfo:
			var info simulation.Info
			if err := sonic.Unmarshal(d.Data, &info); err != nil {
				return errors.Wrap(err, "decode info")
			}
			fmt.Fprintf(w, "%s: %d days from %s, capital %.2f\n",
				info.Ticker, info.SimulationPeriod.Days, info.SimulationPeriod.Start, info.InitialCapital)
		case simulation.EventUpdate:
			var st simulation.State
			if err := sonic.Unmarshal(d.Data, &st); err != nil {
				return errors.Wrap(err, "decode update")
			}
			line := fmt.Sprintf("  %s [%d/%d] close %.2f %-4s equity %.2f",
				st.Date, st.Day, st.TotalDays, st.Bar.Close, st.Signal, st.Equity)
			if st.Trade != nil {
				line += fmt.Sprintf("  %s %.6f @ %.2f", st.Trade.Action, st.Trade.Shares, st.Trade.Price)
			}
			fmt.Fprintln(w, line)
		case simulation.EventComplete:
			var res simulation.Result
			if err := sonic.Unmarshal(d.Data, &res); err != nil {
				return errors.Wrap(err, "decode result")
			}
			printSummary(w, res)
			return nil
		case simulation.EventError:
			return errors.Errorf("simulation failed: %s", d.Message)
		}
	}
	return errors.New("stream ended before completion")
}
