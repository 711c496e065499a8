package pipeline

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/model"
)

// Publisher sends raw messages to a subject. *nats.Conn implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials the event broker. The connection retries in the
// background when the broker is down at startup.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("munivars"),
		nats.Timeout(2*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("events: nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("events: nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, eris.Wrap(err, "events: connect nats")
	}
	return conn, nil
}

// PublishListener returns a Listener that publishes each event as JSON on
// subject. Publish failures are logged and do not affect the run.
func PublishListener(pub Publisher, subject string) Listener {
	return func(ev model.PipelineEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			zap.L().Warn("events: marshal event", zap.Error(err))
			return
		}
		if err := pub.Publish(subject, data); err != nil {
			zap.L().Warn("events: publish failed",
				zap.String("subject", subject),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
		}
	}
}
