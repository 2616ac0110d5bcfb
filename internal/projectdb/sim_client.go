package projectdb

import (
	"context"
	"log/slog"
)

// SimClient satisfies Client without contacting any database, for
// "simdb" operator mode (§4.6, §9 glossary: inhibits database contact for
// dry-runs and engineering).
type SimClient struct {
	Logger *slog.Logger
}

// NewSimClient constructs a SimClient.
func NewSimClient(logger *slog.Logger) *SimClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimClient{Logger: logger}
}

func (c *SimClient) Done(ctx context.Context, rec Record, userID string) error {
	c.Logger.Info("simdb: would report msb done",
		"project_id", rec.ProjectID, "msb_id", rec.MSBID, "user_id", userID)
	return nil
}

func (c *SimClient) Reject(ctx context.Context, rec Record, userID, reason string) error {
	c.Logger.Info("simdb: would report msb reject",
		"project_id", rec.ProjectID, "msb_id", rec.MSBID, "user_id", userID, "reason", reason)
	return nil
}

func (c *SimClient) Suspend(ctx context.Context, projectID, msbID, obsLabel string) error {
	c.Logger.Info("simdb: would report msb suspend",
		"project_id", projectID, "msb_id", msbID, "obs_label", obsLabel)
	return nil
}
