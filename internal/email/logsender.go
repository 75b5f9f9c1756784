package email

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

// LogSender writes the envelope to the log instead of sending. Development
// only; bodies are not logged since they carry live tokens.
type LogSender struct{}

// NewLogSender creates the development backend.
func NewLogSender() *LogSender { return &LogSender{} }

func (s *LogSender) Name() string                         { return "log" }
func (s *LogSender) IsConfigured() bool                   { return true }
func (s *LogSender) TestConnection(_ context.Context) bool { return true }

func (s *LogSender) Send(_ context.Context, msg Template) Result {
	id := "log-" + uuid.New().String()
	logger.Info("[LogSender] email not delivered (development)",
		"recipient", msg.To,
		"subject", msg.Subject,
		"tags", msg.Tags,
		"message_id", id)
	return Result{Success: true, MessageID: id, Provider: s.Name()}
}
