package metric

import (
	"context"
	"time"

	"davsync/src-server/model"
	"davsync/src-server/utils"
)

func database(as *utils.AppState) (time.Duration, error) {
	start := time.Now()
	if _, err := as.BunDB.NewSelect().
		Model((*model.Occurrence)(nil)).
		Where("source_id = ?", "").
		Exists(context.Background()); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
