// Package presence broadcasts user-level online/offline transitions.
package presence

import (
	"log/slog"
	"time"

	"github.com/haphu2512-java/ZaloForEdu/internal/router"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// Deliverer fans deliveries out to connections.
type Deliverer interface {
	Deliver(deliveries []router.Delivery) int
}

// Audience lists the connections a presence change is announced to.
type Audience interface {
	AllConnections() []interfaces.Connection
}

// OnlinePayload is the body of user:online.
type OnlinePayload struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
}

// OfflinePayload is the body of user:offline.
type OfflinePayload struct {
	UserID         string    `json:"userId"`
	DisconnectedAt time.Time `json:"disconnectedAt"`
}

// Publisher announces presence changes to every live connection. Delivery is
// fire-and-forget.
type Publisher struct {
	audience  Audience
	deliverer Deliverer
	log       *slog.Logger
	now       func() time.Time
}

// NewPublisher creates a publisher.
func NewPublisher(audience Audience, deliverer Deliverer, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		audience:  audience,
		deliverer: deliverer,
		log:       log.With(slog.String("component", "presence")),
		now:       time.Now,
	}
}

// Online announces that user came online. Call it only for a user's first
// connection.
func (p *Publisher) Online(user types.UserSummary) {
	p.publish(types.EventUserOnline, user.ID, OnlinePayload{
		UserID:   user.ID,
		FullName: user.FullName,
		Avatar:   user.Avatar,
	})
}

// Offline announces that userID's last connection went away.
func (p *Publisher) Offline(userID string) {
	p.publish(types.EventUserOffline, userID, OfflinePayload{
		UserID:         userID,
		DisconnectedAt: p.now().UTC(),
	})
}

func (p *Publisher) publish(event, userID string, payload any) {
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		p.log.Error("failed to encode presence event", slog.String("event", event), slog.Any("error", err))
		return
	}

	targets := p.audience.AllConnections()
	failed := p.deliverer.Deliver([]router.Delivery{{Targets: targets, Envelope: env}})

	p.log.Debug("presence published",
		slog.String("event", event),
		slog.String("user_id", userID),
		slog.Int("recipients", len(targets)),
		slog.Int("failed", failed),
	)
}
