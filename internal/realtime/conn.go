package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// serve pumps one connection until it fails or ctx ends. The read deadline
// is refreshed by pongs and by frames, so a peer that stops answering pings
// is dropped even when the socket still looks open.
func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(t.cfg.WriteTimeout))
		t.writeMu.Unlock()
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.PongTimeout))
	}
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })

	go t.pingLoop(ctx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = extend()
		t.deliver(data)
	}
}

// pingLoop sends pings until ctx ends. A failed write closes the connection
// so the read loop returns.
func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug().Err(err).Msg("Ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}
