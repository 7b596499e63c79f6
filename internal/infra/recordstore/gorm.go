package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SheetHeader stores the column list of one logical sheet.
type SheetHeader struct {
	Name      string         `gorm:"primaryKey;type:varchar(100)"`
	Columns   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SheetRecord is one row of a logical sheet. Version backs the optimistic
// write in Update.
type SheetRecord struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	Sheet     string         `gorm:"type:varchar(100);not null;index:idx_sheet_records_sheet"`
	Data      datatypes.JSON `gorm:"not null"`
	Version   int64          `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Models lists the tables the Postgres driver needs migrated.
func Models() []any {
	return []any{&SheetHeader{}, &SheetRecord{}}
}

type Gorm struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewGorm(db *gorm.DB, timeout time.Duration) *Gorm {
	return &Gorm{db: db, timeout: timeout}
}

type gormSheet struct {
	store  *Gorm
	name   string
	header []string
}

func (g *Gorm) Sheet(ctx context.Context, name string, header []string) (Sheet, error) {
	ctx, cancel := bounded(ctx, g.timeout)
	defer cancel()

	cols, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}

	var merged []string
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&SheetHeader{Name: name, Columns: datatypes.JSON(cols)}).Error; err != nil {
			return err
		}

		var h SheetHeader
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("name = ?", name).First(&h).Error; err != nil {
			return err
		}

		var existing []string
		if err := json.Unmarshal(h.Columns, &existing); err != nil {
			return fmt.Errorf("decode header of %q: %w", name, err)
		}

		var changed bool
		merged, changed = mergeHeader(existing, header)
		if !changed {
			return nil
		}
		b, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return tx.Model(&SheetHeader{}).Where("name = ?", name).Update("columns", datatypes.JSON(b)).Error
	})
	if err != nil {
		return nil, fmt.Errorf("open sheet %q: %w", name, err)
	}

	return &gormSheet{store: g, name: name, header: merged}, nil
}

func (s *gormSheet) Name() string { return s.name }

func (s *gormSheet) Header() []string { return append([]string(nil), s.header...) }

func (s *gormSheet) AppendRow(ctx context.Context, values map[string]string) (*Row, error) {
	ctx, cancel := bounded(ctx, s.store.timeout)
	defer cancel()

	data, err := json.Marshal(s.project(values))
	if err != nil {
		return nil, err
	}
	rec := SheetRecord{Sheet: s.name, Data: datatypes.JSON(data), Version: 1}
	if err := s.store.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("append row to %q: %w", s.name, err)
	}
	return newRow(s, rec.ID, rec.Version, s.project(values)), nil
}

func (s *gormSheet) Rows(ctx context.Context) ([]*Row, error) {
	ctx, cancel := bounded(ctx, s.store.timeout)
	defer cancel()

	var recs []SheetRecord
	if err := s.store.db.WithContext(ctx).
		Where("sheet = ?", s.name).
		Order("id ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("read rows of %q: %w", s.name, err)
	}

	out := make([]*Row, 0, len(recs))
	for _, rec := range recs {
		values := map[string]string{}
		if err := json.Unmarshal(rec.Data, &values); err != nil {
			return nil, fmt.Errorf("decode row %d of %q: %w", rec.ID, s.name, err)
		}
		out = append(out, newRow(s, rec.ID, rec.Version, values))
	}
	return out, nil
}

func (s *gormSheet) Update(ctx context.Context, row *Row) error {
	ctx, cancel := bounded(ctx, s.store.timeout)
	defer cancel()

	data, err := json.Marshal(s.project(row.values))
	if err != nil {
		return err
	}

	db := s.store.db.WithContext(ctx)
	res := db.Model(&SheetRecord{}).
		Where("id = ? AND sheet = ? AND version = ?", row.key, s.name, row.version).
		Updates(map[string]interface{}{
			"data":    datatypes.JSON(data),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("update row %d of %q: %w", row.key, s.name, res.Error)
	}
	if res.RowsAffected == 0 {
		var rec SheetRecord
		if err := db.Select("id").Where("id = ? AND sheet = ?", row.key, s.name).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return ErrConflict
	}
	row.version++
	return nil
}

func (s *gormSheet) project(values map[string]string) map[string]string {
	out := make(map[string]string, len(s.header))
	for _, col := range s.header {
		if v, ok := values[col]; ok {
			out[col] = v
		}
	}
	return out
}
