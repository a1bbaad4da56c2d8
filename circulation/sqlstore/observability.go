package sqlstore

import (
	"context"
	"math"
	"time"

	"github.com/AntonStoeckl/library-circulation-go/circulation"
)

const (
	logMsgBuildQueryFailed    = "failed to build sql statement"
	logMsgDBQueryFailed       = "database query execution failed"
	logMsgDBExecFailed        = "database execution failed"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgScanRowFailed       = "failed to scan database row"
	logMsgCommitFailed        = "commit failed"
	logMsgLoadFailed          = "load failed"
	logMsgConcurrencyConflict = "book version conflict detected"
	logMsgSQLExecuted         = "executed sql for: "
	logMsgOperation           = "sqlstore operation: "
	logAttrError              = "error"
	logAttrQuery              = "query"
	logAttrOperation          = "operation"
	logAttrDurationMS         = "duration_ms"
	logAttrEntryCount         = "entry_count"
	logAttrTablePrefix        = "table_prefix"
	logActionCommit           = "commit"
	logActionLoad             = "load"
	logActionMigrate          = "migrate"

	metricStoreDuration    = "circulation_sqlstore_duration_seconds"
	metricStoreErrors      = "circulation_sqlstore_errors_total"
	metricVersionConflicts = "circulation_sqlstore_version_conflicts_total"
	labelOperation         = "operation"
	labelStatus            = "status"
	statusSuccess          = "success"
	statusConflict         = "conflict"
	statusError            = "error"
)

// logQueryWithDuration logs SQL statements with execution time at debug level if the logger is configured.
func (s *Store) logQueryWithDuration(sqlQuery string, action string, duration time.Duration) {
	if s.logger != nil {
		s.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

func (s *Store) logOperation(action string, args ...any) {
	if s.logger != nil {
		s.logger.Info(logMsgOperation+action, args...)
	}
}

func (s *Store) logError(message string, err error, args ...any) {
	if s.logger != nil {
		allArgs := []any{logAttrError, err.Error()}
		allArgs = append(allArgs, args...)
		s.logger.Error(message, allArgs...)
	}
}

func (s *Store) recordDuration(ctx context.Context, operation, status string, duration time.Duration) {
	if s.metrics == nil {
		return
	}

	labels := map[string]string{labelOperation: operation, labelStatus: status}

	if contextual, ok := s.metrics.(circulation.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metricStoreDuration, duration, labels)
		return
	}

	s.metrics.RecordDuration(metricStoreDuration, duration, labels)
}

func (s *Store) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if s.metrics == nil {
		return
	}

	if contextual, ok := s.metrics.(circulation.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	s.metrics.IncrementCounter(metric, labels)
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
