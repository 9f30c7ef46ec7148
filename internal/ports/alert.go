package ports

import "context"

// AlertSink accepts formatted notifications. Implementations used on the trading path
// must not block and must not surface delivery failures to the caller.
type AlertSink interface {
	Notify(ctx context.Context, message string)
}
