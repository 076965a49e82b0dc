package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	cws "github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"unsealer/internal/countdown"
	logx "unsealer/pkg/logx"
)

// ClientMessage is what a browser sends on the stream.
//
//	{"type":"visible"}  page became visible again (visibilitychange)
//	{"type":"focus"}    window regained focus
type ClientMessage struct {
	Type string `json:"type"`
}

const (
	MsgVisible = "visible"
	MsgFocus   = "focus"
)

const maxClientMessage = 1 << 10

// stream upgrades to a WebSocket, sends the current frame, then every new
// frame. Client signals are forwarded to the controller.
func (h *handlers) stream(c *gin.Context) {
	opts := &cws.AcceptOptions{OriginPatterns: h.origins}
	if h.origins == nil {
		opts.InsecureSkipVerify = true
	}
	conn, err := cws.Accept(c.Writer, c.Request, opts)
	if err != nil {
		// Accept has already written the failure response.
		h.log.Debug("websocket accept failed", logx.Err(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxClientMessage)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	frames, unsubscribe := h.cd.Subscribe(2)
	defer unsubscribe()

	go h.readSignals(ctx, cancel, conn)

	if err := h.send(ctx, conn, h.cd.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(cws.StatusGoingAway, "")
			return
		case snap, ok := <-frames:
			if !ok {
				_ = conn.Close(cws.StatusGoingAway, "countdown stopped")
				return
			}
			if err := h.send(ctx, conn, snap); err != nil {
				return
			}
		}
	}
}

func (h *handlers) send(ctx context.Context, conn *cws.Conn, snap countdown.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, cws.MessageText, data); err != nil {
		if ctx.Err() == nil {
			h.log.Debug("websocket write failed", logx.Err(err))
		}
		return err
	}
	return nil
}

func (h *handlers) readSignals(ctx context.Context, cancel context.CancelFunc, conn *cws.Conn) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if st := cws.CloseStatus(err); st != cws.StatusNormalClosure && st != cws.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.log.Debug("websocket read ended", logx.Err(err))
			}
			return
		}
		if typ != cws.MessageText {
			continue
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Debug("ignoring malformed client message", logx.Err(err))
			continue
		}
		switch strings.ToLower(strings.TrimSpace(msg.Type)) {
		case MsgVisible:
			h.cd.Resume()
		case MsgFocus:
			h.cd.Focus()
		default:
			h.log.Debug("ignoring client message", logx.String("type", msg.Type))
		}
	}
}

// wsOriginPatterns converts configured CORS origins into host patterns for
// the WebSocket origin check. nil means any origin.
func wsOriginPatterns(origins []string) []string {
	if len(origins) == 0 || containsWildcard(origins) {
		return nil
	}
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		out = append(out, o)
	}
	return out
}
