package delivery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/logger"
	"github.com/replicatedhq/chartsmith/pkg/store"
)

// ActivityReader is the read-path subset of pkg/store the listener needs
// to resolve a notify payload into a full activity row.
type ActivityReader interface {
	ListActivitiesBetween(ctx context.Context, runID string, lowSeq, highSeq int64) ([]domain.Activity, error)
}

// ListenForActivities subscribes to Postgres's activity_appended channel
// on a dedicated connection and republishes each notified activity to hub.
// One channel, no worker pool — fan-out here is in-process, not
// queue-claiming.
func ListenForActivities(ctx context.Context, hub *Hub, reader ActivityReader) error {
	conn, err := pgx.Connect(ctx, store.URI())
	if err != nil {
		return fmt.Errorf("connect for activity listener: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN activity_appended"); err != nil {
		conn.Close(ctx)
		return fmt.Errorf("listen activity_appended: %w", err)
	}

	go func() {
		defer conn.Close(context.Background())
		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("activity listener lost connection, retrying in 5s")
				time.Sleep(5 * time.Second)
				continue
			}

			runID, seq, ok := parsePayload(notification.Payload)
			if !ok {
				continue
			}

			activities, err := reader.ListActivitiesBetween(ctx, runID, seq, seq)
			if err != nil || len(activities) == 0 {
				continue
			}
			hub.Publish(runID, activities[0])
		}
	}()

	return nil
}

func parsePayload(payload string) (string, int64, bool) {
	idx := strings.LastIndex(payload, ":")
	if idx < 0 {
		return "", 0, false
	}
	seq, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return payload[:idx], seq, true
}
