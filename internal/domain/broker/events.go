package broker

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/domain/pending"
	"github.com/GriffinCanCode/chromelink/internal/extension"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

var errLinkLost = types.NewCommandError(types.CodeLinkUnavailable, "Extension disconnected")

func (b *Broker) onReply(reply *types.LinkReply) {
	key, ok := pending.ParseLinkID(reply.RequestID)
	if !ok {
		b.logger.Warn("extension reply with foreign requestId", zap.String("request_id", reply.RequestID))
		return
	}

	var delivered bool
	if reply.Error != nil {
		delivered = b.pending.Reject(key, types.FromPayload(reply.Error))
	} else {
		delivered = b.pending.Resolve(key, reply.Result)
	}
	if !delivered {
		b.logger.Debug("late extension reply discarded",
			logging.SessionID(key.SessionID),
			logging.RequestID(key.RequestID))
	}
}

func (b *Broker) onLinkEvent(ev extension.Event) {
	switch ev.Kind {
	case extension.Connected:
		b.linkConn = ev.ConnID
		b.metrics.SetLinkUp(true)
		b.metrics.IncWSConnections(monitoring.RoleExtension)
		b.flushTombstones()
		b.replayInjections()
	case extension.Disconnected:
		b.metrics.DecWSConnections(monitoring.RoleExtension)
		// requests carried by this connection only; a successor keeps its own
		n := b.pending.RejectLink(ev.ConnID, errLinkLost)
		if n > 0 {
			b.logger.Warn("extension lost with requests in flight",
				logging.ConnID(ev.ConnID),
				zap.Int("rejected", n))
		}
		if ev.ConnID != b.linkConn {
			b.logger.Debug("disconnect of superseded extension connection",
				logging.ConnID(ev.ConnID),
				zap.String("current", b.linkConn))
			break
		}
		b.linkConn = ""
		b.metrics.SetLinkUp(false)
	}
	b.refreshGauges()
}

// replayInjections brings a freshly attached extension up to date
func (b *Broker) replayInjections() {
	replayed := 0
	for sessionID, injs := range b.injections.Snapshot() {
		for _, inj := range injs {
			if err := b.link.Notify(injectionCommand(sessionID, inj)); err != nil {
				b.logger.Warn("injection replay failed",
					logging.SessionID(sessionID),
					zap.String("injection_id", inj.ID),
					zap.Error(err))
				return
			}
			replayed++
		}
	}
	if replayed > 0 {
		b.logger.Info("replayed injections to extension", zap.Int("count", replayed))
	}
}
