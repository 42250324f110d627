package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cqhawk/cqevent/internal/logging"
	"github.com/cqhawk/cqevent/internal/metrics"
	"github.com/cqhawk/cqevent/internal/model"
)

// FileQueue stores each failed payload as a JSON file in one directory.
type FileQueue struct {
	basePath string
	logger   *slog.Logger

	mu      sync.Mutex
	written uint64
}

// NewFileQueue creates basePath if needed.
func NewFileQueue(basePath string, logger *slog.Logger) (*FileQueue, error) {
	if basePath == "" {
		return nil, fmt.Errorf("dlq base path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &FileQueue{
		basePath: basePath,
		logger:   logger.With(logging.Component("dlq")),
	}, nil
}

// Write stores envelope as failed_<unixnano>_<seq>_<envelope id>.json.
func (q *FileQueue) Write(ctx context.Context, envelope *model.RawEventEnvelope, err error, reason string) error {
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	data, marshalErr := json.MarshalIndent(NewFailedEvent(envelope, err, reason), "", "  ")
	if marshalErr != nil {
		metrics.DLQWrites.WithLabelValues(reason, "error").Inc()
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	name := fmt.Sprintf("failed_%d_%08d_%s.json", time.Now().UnixNano(), q.written, fileID(envelope, q.written))
	if writeErr := os.WriteFile(filepath.Join(q.basePath, name), data, 0o644); writeErr != nil {
		metrics.DLQWrites.WithLabelValues(reason, "error").Inc()
		return fmt.Errorf("write dlq entry: %w", writeErr)
	}

	q.written++
	metrics.DLQWrites.WithLabelValues(reason, "ok").Inc()
	q.logger.DebugContext(ctx, "wrote failed event", slog.String("file", name), slog.String("reason", reason))
	return nil
}

func fileID(envelope *model.RawEventEnvelope, seq uint64) string {
	if envelope == nil || envelope.ID == "" {
		return fmt.Sprintf("seq%d", seq)
	}
	return strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(envelope.ID)
}

// Stats reports the number of files on disk.
func (q *FileQueue) Stats(context.Context) map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": "file"}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]any{
		"enabled":   true,
		"backend":   "file",
		"written":   q.written,
		"base_path": q.basePath,
	}
	files, err := q.entries()
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["pending_files"] = len(files)
	return stats
}

// List returns up to limit failed events, oldest first. A limit of zero or
// less returns everything.
func (q *FileQueue) List(_ context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.entries()
	if err != nil {
		return nil, err
	}

	var events []FailedEvent
	for _, name := range files {
		if limit > 0 && len(events) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.Warn("failed to read dlq file", slog.String("file", name), logging.Error(err))
			continue
		}
		var failed FailedEvent
		if err := json.Unmarshal(data, &failed); err != nil {
			q.logger.Warn("failed to parse dlq file", slog.String("file", name), logging.Error(err))
			continue
		}
		events = append(events, failed)
	}
	return events, nil
}

// Delete removes the entry written for envelopeID.
func (q *FileQueue) Delete(_ context.Context, envelopeID string) error {
	if q == nil {
		return ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if envelopeID == "" {
		return fmt.Errorf("envelope id is required")
	}
	files, err := q.entries()
	if err != nil {
		return err
	}
	want := fileID(&model.RawEventEnvelope{ID: envelopeID}, 0)
	deleted := 0
	for _, name := range files {
		if entryID(name) != want {
			continue
		}
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			return fmt.Errorf("delete dlq file: %w", err)
		}
		deleted++
	}
	if deleted == 0 {
		return fmt.Errorf("dlq entry %s not found", envelopeID)
	}
	return nil
}

// entryID extracts the envelope part of failed_<unixnano>_<seq>_<id>.json.
func entryID(name string) string {
	parts := strings.SplitN(strings.TrimSuffix(strings.TrimPrefix(name, "failed_"), ".json"), "_", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// Purge removes every entry.
func (q *FileQueue) Purge(context.Context) error {
	if q == nil {
		return ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.entries()
	if err != nil {
		return err
	}
	deleted := 0
	for _, name := range files {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			q.logger.Warn("failed to delete dlq file", slog.String("file", name), logging.Error(err))
			continue
		}
		deleted++
	}
	q.logger.Info("purged dlq", slog.Int("deleted", deleted))
	return nil
}

// entries lists queue files sorted by name, which sorts them by write time.
func (q *FileQueue) entries() ([]string, error) {
	dirEntries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, entry := range dirEntries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "failed_") || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
