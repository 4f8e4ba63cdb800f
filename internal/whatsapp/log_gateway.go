package whatsapp

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dcruzimoveis/leadmatch/internal/notify"
	"go.uber.org/zap"
)

// LogGateway accepts every message and only logs it. Used when no provider is configured.
type LogGateway struct {
	logger  *zap.Logger
	counter atomic.Int64
}

// NewLogGateway constructs a gateway that writes messages to the logger.
func NewLogGateway(logger *zap.Logger) *LogGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(_ context.Context, message notify.Message) (notify.Receipt, error) {
	id := fmt.Sprintf("log-%d", g.counter.Add(1))
	g.logger.Info("whatsapp message",
		zap.String("provider_id", id),
		zap.String("phone", message.Phone),
		zap.Bool("with_image", message.ImageURL != ""),
		zap.Int("length", len(message.Text)),
	)
	return notify.Receipt{Accepted: true, ProviderID: id}, nil
}
