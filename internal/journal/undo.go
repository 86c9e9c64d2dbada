package journal

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"qrrename/internal/storage"
)

// UndoResult summarizes an undo pass
type UndoResult struct {
	RunID    string
	Restored int
	Skipped  int
	Failed   int
}

// Undo moves every still-renamed file of a run back to its original name,
// newest rename first. An empty runID selects the last run. A file whose
// original name has been taken since is left alone.
func Undo(store Store, fsys storage.FS, runID string, dryRun bool, logger *zap.Logger) (*UndoResult, error) {
	if runID == "" {
		run, err := store.LastRun()
		if err != nil {
			return nil, fmt.Errorf("failed to find last run: %w", err)
		}
		if run == nil {
			return nil, fmt.Errorf("journal has no runs")
		}
		runID = run.ID
	}

	records, err := store.ListRenames(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list renames of run %s: %w", runID, err)
	}

	result := &UndoResult{RunID: runID}
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Status != StatusRenamed {
			result.Skipped++
			continue
		}

		if dryRun {
			logger.Info("Would restore", zap.String("from", rec.Target), zap.String("to", rec.Source))
			result.Restored++
			continue
		}

		err := fsys.RenameNoReplace(rec.Target, rec.Source)
		if errors.Is(err, storage.ErrTargetExists) {
			logger.Warn("Original name is taken, leaving file", zap.String("path", rec.Target), zap.String("original", rec.Source))
			result.Skipped++
			continue
		}
		if err != nil {
			logger.Error("Failed to restore", zap.String("path", rec.Target), zap.Error(err))
			result.Failed++
			continue
		}

		if err := store.MarkUndone(runID, rec.Source); err != nil {
			logger.Error("Failed to update journal", zap.String("source", rec.Source), zap.Error(err))
		}
		logger.Info("Restored", zap.String("from", rec.Target), zap.String("to", rec.Source))
		result.Restored++
	}

	return result, nil
}
