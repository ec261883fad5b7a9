package persistence

import (
	"context"
	"fmt"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/persistence/models"
	"gorm.io/gorm/clause"
)

func tableFor(kind offline.EntityKind) (string, error) {
	if !kind.IsValid() {
		return "", fmt.Errorf("unknown entity kind %q: %w", kind, shared.ErrInvalidInput)
	}
	return kind.TableName(), nil
}

// Upsert inserts or fully replaces the record with the same id.
func (s *LocalStore) Upsert(ctx context.Context, kind offline.EntityKind, record *offline.Record) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required: %w", shared.ErrInvalidInput)
	}
	row, err := models.RecordColumnsFromDomain(kind, record, s.now())
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Table(table).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(models.UpsertColumns),
		}).
		Create(row).Error
	return wrap("upsert "+table, err)
}

// Get returns the record with id, or shared.ErrNotFound.
func (s *LocalStore) Get(ctx context.Context, kind offline.EntityKind, id string) (*offline.Record, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var row models.RecordColumns
	if err := s.db.WithContext(ctx).Table(table).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, wrap("get "+table, err)
	}
	rec, err := row.ToDomain(kind)
	if err != nil {
		return nil, shared.NewStorageError("get "+table, err)
	}
	return rec, nil
}

// List returns records of kind in the table's natural order.
func (s *LocalStore) List(ctx context.Context, kind offline.EntityKind, filter offline.ListFilter) ([]*offline.Record, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Table(table)
	if filter.CompanyID != "" {
		q = q.Where("company_id = ?", filter.CompanyID)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	switch kind {
	case offline.EntityVoucher:
		q = q.Order("doc_date DESC").Order("created_at DESC")
	case offline.EntityInventoryItem:
		q = q.Order("category ASC").Order("name ASC")
	default:
		q = q.Order("name ASC")
	}
	q = q.Order("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []models.RecordColumns
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("list "+table, err)
	}
	records := make([]*offline.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].ToDomain(kind)
		if err != nil {
			return nil, shared.NewStorageError("list "+table, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete removes the record. Deleting an absent id is a no-op.
func (s *LocalStore) Delete(ctx context.Context, kind offline.EntityKind, id string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Table(table).Where("id = ?", id).Delete(&models.RecordColumns{}).Error
	return wrap("delete "+table, err)
}
