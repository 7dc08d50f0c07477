// Package events publishes enrichment outcomes to NATS.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/config"
	"github.com/sells-group/visitor-cli/internal/model"
)

// DefaultSubjectPrefix is used when the configured prefix is empty.
const DefaultSubjectPrefix = "visitor.enrichment"

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Publisher sends each EnrichmentResult to <prefix>.<status>. A Publisher
// without a connection drops everything.
type Publisher struct {
	nc     conn
	prefix string
}

// Connect dials NATS when cfg.NATSURL is set. With no URL it returns a
// no-op publisher.
func Connect(cfg config.EventsConfig) (*Publisher, error) {
	if cfg.NATSURL == "" {
		return &Publisher{prefix: prefixOrDefault(cfg.SubjectPrefix)}, nil
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("visitor-cli"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				zap.L().Warn("events: nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("events: nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, eris.Wrap(err, "events: connect nats")
	}
	return newPublisher(nc, cfg.SubjectPrefix), nil
}

func newPublisher(nc conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: prefixOrDefault(prefix)}
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}

// Enabled reports whether results are actually sent.
func (p *Publisher) Enabled() bool {
	return p != nil && p.nc != nil
}

// Subject returns the subject a result with the given status goes to.
func (p *Publisher) Subject(status model.Status) string {
	return p.prefix + "." + string(status)
}

// Publish sends r. Failures are logged and swallowed; publishing never
// affects the outcome of a run.
func (p *Publisher) Publish(r *model.EnrichmentResult) {
	if !p.Enabled() || r == nil {
		return
	}
	subject := p.Subject(r.Status)
	log := zap.L().With(zap.String("subject", subject), zap.String("visit_id", r.VisitID))

	data, err := json.Marshal(r)
	if err != nil {
		log.Warn("events: marshal result", zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		log.Warn("events: publish failed", zap.Error(err))
		return
	}
	log.Debug("events: published", zap.Int("bytes", len(data)))
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close(ctx context.Context) {
	if !p.Enabled() {
		return
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		zap.L().Warn("events: flush on close", zap.Error(err))
	}
	p.nc.Close()
}
