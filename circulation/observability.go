package circulation

import (
	"context"
	"errors"
	"math"
	"time"
)

// Logger interface for operation logging, warnings, and error reporting. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsCollector interface for collecting engine performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector extends MetricsCollector with context-aware methods.
// The engine uses them when available.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

// SpanContext represents an active tracing span that can be finished and updated with attributes.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector interface for collecting tracing information from engine operations.
// It is dependency-free, see package oteladapters for an OpenTelemetry implementation.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

const (
	metricOperationDuration = "circulation_operation_duration_seconds"
	metricOperationCalls    = "circulation_operation_calls_total"
	metricRejections        = "circulation_rejections_total"
	metricStoreErrors       = "circulation_store_errors_total"
	metricRetries           = "circulation_retries_total"
	metricRetryDelay        = "circulation_retry_delay_seconds"
	metricMaxRetriesReached = "circulation_max_retries_reached_total"
	metricAvailableCopies   = "circulation_available_copies"
	metricExpiredCount      = "circulation_reservations_expired"

	labelOperation     = "operation"
	labelStatus        = "status"
	labelErrorType     = "error_type"
	labelAttemptNumber = "attempt_number"
	labelBookID        = "book_id"

	statusSuccess  = "success"
	statusRejected = "rejected"
	statusError    = "error"

	spanNameOperation = "circulation.operation"

	logMsgOperationCompleted = "circulation operation completed"
	logMsgOperationRejected  = "circulation operation rejected"
	logMsgOperationFailed    = "circulation operation failed"
	logMsgNotifyFailed       = "copy available notification failed"
	logMsgRestored           = "circulation state restored"
	logMsgReloaded           = "circulation state reloaded after a concurrent write"
	logMsgSweeperStopped     = "reservation expiry sweeper stopped"
	logMsgSweepFailed        = "reservation expiry sweep failed"

	logAttrOperation     = "operation"
	logAttrMemberID      = "member_id"
	logAttrBookID        = "book_id"
	logAttrReservationID = "reservation_id"
	logAttrPolicyID      = "policy_id"
	logAttrStatus        = "status"
	logAttrDurationMS    = "duration_ms"
	logAttrError         = "error"
	logAttrErrorType     = "error_type"
	logAttrCount         = "count"
	logAttrEntryCount    = "entry_count"

	operationBorrow             = "Borrow"
	operationReturn             = "Return"
	operationRenew              = "Renew"
	operationReserve            = "Reserve"
	operationCancelReservation  = "CancelReservation"
	operationExpireReservations = "ExpireReservations"
	operationDefinePolicy       = "DefinePolicy"
	operationRegisterMember     = "RegisterMember"
	operationChangeMemberStatus = "ChangeMemberStatus"
	operationAddBook            = "AddBook"
	operationAddCopies          = "AddCopies"
)

// errorType maps an error to a low cardinality label value.
func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrContention):
		return "contention"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "context_deadline_exceeded"
	case IsPreconditionViolation(err):
		return "precondition"
	case errors.Is(err, ErrConstraintViolation), errors.Is(err, ErrOverReturn):
		return "constraint_violation"
	default:
		return "other"
	}
}

func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// operationObserver ties span, metrics and log output of one engine operation together.
type operationObserver struct {
	e         *Engine
	ctx       context.Context
	span      SpanContext
	operation string
	start     time.Time
	args      []any
}

func (e *Engine) observe(ctx context.Context, operation string, args ...any) (*operationObserver, context.Context) {
	o := &operationObserver{e: e, operation: operation, start: time.Now(), args: args}

	if e.tracingCollector != nil {
		ctx, o.span = e.tracingCollector.StartSpan(ctx, spanNameOperation, map[string]string{labelOperation: operation})
	}

	o.ctx = ctx

	return o, ctx
}

func (o *operationObserver) finish(err error) {
	duration := time.Since(o.start)
	status := statusSuccess

	switch {
	case err == nil:
	case IsPreconditionViolation(err):
		status = statusRejected
	default:
		status = statusError
	}

	labels := map[string]string{labelOperation: o.operation, labelStatus: status}
	o.recordDuration(metricOperationDuration, duration, labels)
	o.incrementCounter(metricOperationCalls, labels)

	if err != nil {
		o.incrementCounter(metricRejections, map[string]string{labelOperation: o.operation, labelErrorType: errorType(err)})
	}

	if o.span != nil {
		attrs := map[string]string{labelStatus: status}
		if err != nil {
			attrs[labelErrorType] = errorType(err)
		}

		o.e.tracingCollector.FinishSpan(o.span, status, attrs)
	}

	if o.e.logger == nil {
		return
	}

	args := append([]any{logAttrOperation, o.operation, logAttrDurationMS, toMilliseconds(duration)}, o.args...)

	switch status {
	case statusSuccess:
		o.e.logger.Info(logMsgOperationCompleted, args...)
	case statusRejected:
		o.e.logger.Info(logMsgOperationRejected, append(args, logAttrErrorType, errorType(err), logAttrError, err.Error())...)
	default:
		o.e.logger.Error(logMsgOperationFailed, append(args, logAttrErrorType, errorType(err), logAttrError, err.Error())...)
	}
}

func (o *operationObserver) recordDuration(metric string, d time.Duration, labels map[string]string) {
	if o.e.metricsCollector == nil {
		return
	}

	if contextual, ok := o.e.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(o.ctx, metric, d, labels)
		return
	}

	o.e.metricsCollector.RecordDuration(metric, d, labels)
}

func (o *operationObserver) incrementCounter(metric string, labels map[string]string) {
	if o.e.metricsCollector == nil {
		return
	}

	if contextual, ok := o.e.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(o.ctx, metric, labels)
		return
	}

	o.e.metricsCollector.IncrementCounter(metric, labels)
}

func (e *Engine) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextual, ok := e.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	e.metricsCollector.RecordValue(metric, value, labels)
}

func (e *Engine) recordStoreError(ctx context.Context, operation string, err error) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{labelOperation: operation, labelErrorType: errorType(err)}

	if contextual, ok := e.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metricStoreErrors, labels)
		return
	}

	e.metricsCollector.IncrementCounter(metricStoreErrors, labels)
}
