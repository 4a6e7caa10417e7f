package adapter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "gatebot/internal/transport"
)

var retryAfterRe = regexp.MustCompile(`(?i)retry after (\d+)`)

// mapError converts telebot failures into the transport sentinels. Unknown
// API errors are matched by description, since telebot only exposes the
// common ones as values.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &kit.FloodWaitError{RetryAfter: time.Duration(fe.RetryAfter) * time.Second, Cause: err}
	}
	switch {
	case errors.Is(err, tele.ErrBlockedByUser):
		return fmt.Errorf("%w: %w", kit.ErrBlocked, err)
	case errors.Is(err, tele.ErrUserIsDeactivated):
		return fmt.Errorf("%w: %w", kit.ErrDeactivated, err)
	case errors.Is(err, tele.ErrChatNotFound), errors.Is(err, tele.ErrBadUserID), errors.Is(err, tele.ErrNotStartedByUser):
		return fmt.Errorf("%w: %w", kit.ErrInvalidRecipient, err)
	}

	desc := strings.ToLower(err.Error())
	switch {
	case strings.Contains(desc, "bot was blocked by the user"):
		return fmt.Errorf("%w: %w", kit.ErrBlocked, err)
	case strings.Contains(desc, "user is deactivated"):
		return fmt.Errorf("%w: %w", kit.ErrDeactivated, err)
	case strings.Contains(desc, "peer_id_invalid"),
		strings.Contains(desc, "user_id_invalid"),
		strings.Contains(desc, "chat not found"),
		strings.Contains(desc, "user not found"):
		return fmt.Errorf("%w: %w", kit.ErrInvalidRecipient, err)
	case strings.Contains(desc, "too many requests"):
		if m := retryAfterRe.FindStringSubmatch(desc); m != nil {
			if n, convErr := strconv.Atoi(m[1]); convErr == nil {
				return &kit.FloodWaitError{RetryAfter: time.Duration(n) * time.Second, Cause: err}
			}
		}
	}
	return err
}
