package signal

import (
	"fmt"
	"time"

	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleCallInitiate(cid domain.ConnectionID, data []byte) {
	var p protocol.CallInitiate
	if !ctl.decode(cid, protocol.TypeCallInitiate, data, &p) {
		return
	}
	if u, ok := ctl.Orch.Registry.Lookup(cid); ok && ctl.Limiter != nil {
		if wait, ok := ctl.Limiter.Allow(u.ID); !ok {
			secs := int((wait + time.Second - 1) / time.Second)
			log.Warn().Str("module", "signal").Str("user", string(u.ID)).Dur("retry_after", wait).Msg("call rate limited")
			ctl.Orch.Router.SendError(cid, protocol.TypeCallInitiate, domain.UserID(p.TargetUserID),
				fmt.Sprintf("too many call attempts, retry in %ds", secs))
			return
		}
	}
	if err := ctl.Orch.InitiateCall(cid, p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("call-initiate not relayed")
	}
}

func (ctl *SignalWSController) handleCallAnswer(cid domain.ConnectionID, data []byte) {
	var p protocol.CallAnswer
	if !ctl.decode(cid, protocol.TypeCallAnswer, data, &p) {
		return
	}
	if _, err := ctl.Orch.AnswerCall(cid, p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("call-answer not relayed")
	}
}

func (ctl *SignalWSController) handleCallDecline(cid domain.ConnectionID, data []byte) {
	var p protocol.CallDecline
	if !ctl.decode(cid, protocol.TypeCallDecline, data, &p) {
		return
	}
	if err := ctl.Orch.DeclineCall(cid, p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("call-decline not relayed")
	}
}

func (ctl *SignalWSController) handleCallEnd(cid domain.ConnectionID, data []byte) {
	var p protocol.CallEnd
	if !ctl.decode(cid, protocol.TypeCallEnd, data, &p) {
		return
	}
	_ = ctl.Orch.EndCall(cid, p)
}

func (ctl *SignalWSController) handleRelaySignal(cid domain.ConnectionID, data []byte) {
	var p protocol.Signal
	if !ctl.decode(cid, protocol.TypeSignal, data, &p) {
		return
	}
	if err := ctl.Orch.RelaySignal(cid, p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("cid", string(cid)).Str("signal_type", p.SignalType).Msg("signal not relayed")
	}
}
