package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, cid domain.ConnectionID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(ctl.Opts.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("cid", string(cid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("writePump ping failed")
				return
			}
		}
	}
}

// readPump owns the connection: when it returns the connection is cleaned up
// exactly once, whatever made it stop.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cid domain.ConnectionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(cid)
	}()

	c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(cid, data)
	}
}

func (ctl *SignalWSController) handleSignal(cid domain.ConnectionID, data []byte) {
	t, err := protocol.PeekType(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("bad json")
		ctl.Orch.Router.SendError(cid, "", "", "bad_payload")
		return
	}

	switch t {
	case protocol.TypeRegister:
		ctl.handleRegister(cid, data)
	case protocol.TypeCallInitiate:
		ctl.handleCallInitiate(cid, data)
	case protocol.TypeCallAnswer:
		ctl.handleCallAnswer(cid, data)
	case protocol.TypeCallDecline:
		ctl.handleCallDecline(cid, data)
	case protocol.TypeCallEnd:
		ctl.handleCallEnd(cid, data)
	case protocol.TypeSignal:
		ctl.handleRelaySignal(cid, data)
	case protocol.TypePing:
		ctl.handlePing(cid)
	default:
		log.Warn().Str("module", "signal").Str("type", string(t)).Msg("unknown signal")
		ctl.Orch.Router.SendError(cid, t, "", "unknown message type")
	}
}

// decode unmarshals and validates a payload, reporting failures to the sender.
func (ctl *SignalWSController) decode(cid domain.ConnectionID, t protocol.Type, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(t)).Msg("bad payload")
		ctl.Orch.Router.SendError(cid, t, "", "bad_payload")
		return false
	}
	if err := ctl.validate.Struct(v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(t)).Msg("invalid payload")
		ctl.Orch.Router.SendError(cid, t, "", "invalid_payload")
		return false
	}
	return true
}
