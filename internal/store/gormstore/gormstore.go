// Package gormstore keeps the service's own bookkeeping: which ledger events were already
// notified and what each batch sweep did. Balances always come from the ledger.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/skippy/island-grown/pkg/benefits"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	constraintNotificationEvent = "uniq_notification_claims_event"
	defaultFailuresJSON         = "[]"
	pgUniqueViolationCode       = "23505"
	sqliteConstraintCode        = 19
	errorOperationStore         = "store"
	errorSubjectClaim           = "notification_claim"
	errorSubjectSweep           = "sweep_run"
	errorCodeInsert             = "insert"
	errorCodeInvalid            = "invalid"
	errorCodeDelete             = "delete"
	errorCodeList               = "list"
)

// Store persists journal rows using GORM.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ClaimNotification records that the notification for eventID is being sent. It reports false
// when another delivery already claimed the event.
func (store *Store) ClaimNotification(ctx context.Context, eventID string, kind string, cardholderID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, wrapStoreError(errorSubjectClaim, errorCodeInvalid, errors.New("event id is required"))
	}
	claim := NotificationClaim{
		EventID:      eventID,
		Kind:         kind,
		CardholderID: cardholderID,
		CreatedAt:    store.now(),
	}
	err := store.db.WithContext(ctx).Create(&claim).Error
	if isDuplicateClaim(err) {
		return false, nil
	}
	if err != nil {
		return false, wrapStoreError(errorSubjectClaim, errorCodeInsert, err)
	}
	return true, nil
}

// ReleaseNotification drops the claim on eventID so a redelivery may try again.
func (store *Store) ReleaseNotification(ctx context.Context, eventID string) error {
	err := store.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Delete(&NotificationClaim{}).Error
	return wrapStoreError(errorSubjectClaim, errorCodeDelete, err)
}

// RecordSweep appends a sweep summary.
func (store *Store) RecordSweep(ctx context.Context, summary benefits.SweepSummary) error {
	failures, err := failuresJSON(summary.Failures)
	if err != nil {
		return wrapStoreError(errorSubjectSweep, errorCodeInvalid, err)
	}
	run := SweepRun{
		Kind:       summary.Kind,
		DryRun:     summary.DryRun,
		Processed:  summary.Processed,
		Updated:    summary.Updated,
		Failed:     summary.Failed(),
		Failures:   failures,
		StartedAt:  summary.StartedAt.UTC(),
		FinishedAt: summary.FinishedAt.UTC(),
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = store.now()
	}
	if err := store.db.WithContext(ctx).Create(&run).Error; err != nil {
		return wrapStoreError(errorSubjectSweep, errorCodeInsert, err)
	}
	return nil
}

// RecentSweeps returns up to limit sweep summaries of kind, newest first. An empty kind lists
// every kind.
func (store *Store) RecentSweeps(ctx context.Context, kind string, limit int) ([]benefits.SweepSummary, error) {
	var rows []SweepRun
	query := store.db.WithContext(ctx)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	err := query.Order("started_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSweep, errorCodeList, err)
	}
	summaries := make([]benefits.SweepSummary, 0, len(rows))
	for _, row := range rows {
		summary, err := mapSweepRun(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSweep, errorCodeInvalid, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return benefits.WrapError(errorOperationStore, subject, code, err)
}

func mapSweepRun(row SweepRun) (benefits.SweepSummary, error) {
	var failures []benefits.SweepFailure
	if len(row.Failures) > 0 {
		if err := json.Unmarshal(row.Failures, &failures); err != nil {
			return benefits.SweepSummary{}, err
		}
	}
	return benefits.SweepSummary{
		Kind:       row.Kind,
		DryRun:     row.DryRun,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		Processed:  row.Processed,
		Updated:    row.Updated,
		Failures:   failures,
	}, nil
}

func failuresJSON(failures []benefits.SweepFailure) (datatypes.JSON, error) {
	if len(failures) == 0 {
		return datatypes.JSON([]byte(defaultFailuresJSON)), nil
	}
	encoded, err := json.Marshal(failures)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

func isDuplicateClaim(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintNotificationEvent
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
