package signal

import (
	"errors"

	"github.com/dkeye/Callbridge/internal/app"
	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/dkeye/Callbridge/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRegister(cid domain.ConnectionID, data []byte) {
	var p protocol.Register
	if !ctl.decode(cid, protocol.TypeRegister, data, &p) {
		return
	}
	user, err := domain.NewUser(p.UserID, p.DisplayName, p.AvatarRef)
	if err != nil {
		ctl.Orch.Router.SendError(cid, protocol.TypeRegister, "", err.Error())
		return
	}

	if err := ctl.Orch.Register(cid, *user); err != nil {
		msg := "register failed"
		if errors.Is(err, app.ErrIdentityMismatch) {
			msg = err.Error()
		}
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Str("user", p.UserID).Msg("register rejected")
		ctl.Orch.Router.SendError(cid, protocol.TypeRegister, "", msg)
	}
}
