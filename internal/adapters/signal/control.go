package signal

import (
	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/dkeye/Callbridge/internal/protocol"
)

func (ctl *SignalWSController) handlePing(cid domain.ConnectionID) {
	_ = ctl.Orch.Router.Send(cid, protocol.Pong{Type: protocol.TypePong})
}
