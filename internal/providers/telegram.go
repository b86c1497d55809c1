package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/models"
	"sterilization-gateway/internal/utils"
)

// messageSender is the part of *bot.Bot the provider uses.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Telegram sends notifications through the Bot API. The bot token comes from
// the gateway configuration unless the contact point carries its own
// "bot_token"; "chat_id" is always per contact point.
type Telegram struct {
	token    string
	limiter  *rate.Limiter
	logger   *logging.Logger
	attempts int
	delay    time.Duration

	newSender func(token string) (messageSender, error)
}

func NewTelegram(token string, ratePerSecond int, logger *logging.Logger) *Telegram {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return &Telegram{
		token:    token,
		limiter:  rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
		logger:   logger,
		attempts: 3,
		delay:    time.Second,
		newSender: func(token string) (messageSender, error) {
			return bot.New(token)
		},
	}
}

func (t *Telegram) Send(ctx context.Context, n models.Notification, cp models.ContactPoint) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}

	cpID := uuid.UUID(cp.ID)
	token := configString(cp, "bot_token")
	if token == "" {
		token = t.token
	}
	if token == "" {
		return fmt.Errorf("missing bot_token for contact point %s", cpID)
	}
	chatID, err := configInt(cp, "chat_id")
	if err != nil || chatID == 0 {
		return fmt.Errorf("invalid chat_id in Telegram configuration for contact point %s: %v", cpID, err)
	}

	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      formatTelegram(n),
		ParseMode: "Markdown",
	}

	return utils.Retry(ctx, t.logger, t.attempts, t.delay, func() error {
		b, err := t.newSender(token)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram bot for contact point %s: %w", cpID, err)
		}
		if _, err := b.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", chatID, err)
		}
		return nil
	})
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func formatTelegram(n models.Notification) string {
	return fmt.Sprintf("*%s*\n%s\n\n*Cycle:* %s\n*Severity:* %s",
		markdownEscaper.Replace(n.Subject),
		markdownEscaper.Replace(n.Body),
		markdownEscaper.Replace(n.CycleID),
		n.Severity,
	)
}
