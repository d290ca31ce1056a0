package external

import (
	"context"
	"fmt"
	"log/slog"

	"fleetops/internal/types"
)

// StubEmailProvider implements EmailProvider by logging calls and
// returning a fake message ID. Used when EMAIL_PROVIDER=stub or
// APP_ENV=local so the job can run without real credentials.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: Send email called",
		"to", input.To,
		"subject", input.Subject,
		"from", input.From.Address,
	)
	return fmt.Sprintf("msg_stub_%s", input.ReferenceID), nil
}

var _ EmailProvider = (*StubEmailProvider)(nil)
