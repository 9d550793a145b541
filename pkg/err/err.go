package errprocess

import (
	"errors"
	"fmt"

	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// Kind machine-readable error kind exposed to API callers
type Kind string

const (
	// KindValidation bad or missing input
	KindValidation Kind = "validation_error"
	// KindNotFound entity or job not found
	KindNotFound Kind = "not_found"
	// KindForbidden ownership mismatch
	KindForbidden Kind = "forbidden"
	// KindUnauthorized no authenticated user
	KindUnauthorized Kind = "unauthorized"
	// KindInvalidQueueName queue name not in {video, ai, strategy}
	KindInvalidQueueName Kind = "invalid_queue_name"
	// KindDuplicateJob idempotency guard hit, job already in progress
	KindDuplicateJob Kind = "duplicate_job"
	// KindStorageUnavailable storage backend failed, retryable by caller
	KindStorageUnavailable Kind = "storage_unavailable"
	// KindNotReady video not yet playable
	KindNotReady Kind = "not_ready"
	// KindStageFailure a stage worker reported terminal failure
	KindStageFailure Kind = "stage_failure"
	// KindTransientQueue job store unreachable after retries
	KindTransientQueue Kind = "transient_queue_error"
	// KindInternal anything else
	KindInternal Kind = "internal"
)

// Error 帶 Kind 的錯誤，Detail 給人看，Err 保留原始錯誤
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s : %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so errors.Is(err, ErrDuplicateJob) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Detail == ""
}

// sentinel values for errors.Is
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrInvalidQueueName   = &Error{Kind: KindInvalidQueueName}
	ErrDuplicateJob       = &Error{Kind: KindDuplicateJob}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable}
	ErrNotReady           = &Error{Kind: KindNotReady}
	ErrStageFailure       = &Error{Kind: KindStageFailure}
	ErrTransientQueue     = &Error{Kind: KindTransientQueue}
)

// New build a kinded error
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap build a kinded error keeping the cause
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the Kind of err, KindInternal when err carries none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the human readable detail without the wrapped backend error
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return "internal error"
}

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// SetKind 紀錄後回傳帶 Kind 的錯誤
func SetKind(kind Kind, errMsg string, err error) error {
	logger.Log.Error(errMsg, zap.String("kind", string(kind)), zap.Error(err))
	return Wrap(kind, errMsg, err)
}
