package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/swxsoc/fswatcher/internal/store"
)

const probeBody = "This is a test file"

// probeAccess verifies the credentials can actually move objects before the
// daemon commits to watching: upload a marker, confirm it landed, and remove
// it again when delete propagation is enabled. Bad IAM policies surface here
// instead of on the first real file.
func (d *Daemon) probeAccess(ctx context.Context) error {
	key := fmt.Sprintf("fswatcher_test_file_%s.txt", uuid.NewString())
	slog.Info("iam probe start", "key", key)

	_, err := d.store.Put(ctx, key, strings.NewReader(probeBody), store.PutOptions{
		Size: int64(len(probeBody)),
	})
	if err != nil {
		return fmt.Errorf("iam probe upload: %w", err)
	}

	if _, ok, err := d.store.Head(ctx, key); err != nil {
		return fmt.Errorf("iam probe head: %w", err)
	} else if !ok {
		return fmt.Errorf("iam probe: uploaded object %q not found", key)
	}

	if !d.cfg.AllowDelete {
		slog.Warn("iam probe passed; delete disabled, remove the probe object manually", "key", key)
		return nil
	}

	if err := d.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("iam probe delete: %w", err)
	}
	if _, ok, err := d.store.Head(ctx, key); err != nil {
		return fmt.Errorf("iam probe verify delete: %w", err)
	} else if ok {
		return fmt.Errorf("iam probe: object %q still present after delete", key)
	}

	slog.Info("iam probe passed")
	return nil
}
