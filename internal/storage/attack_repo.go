package storage

import (
	"encoding/json"
	"fmt"

	"github.com/xsswatch/xsswatch/internal/logging"
	"github.com/xsswatch/xsswatch/internal/rules"
	"gorm.io/gorm/clause"
)

// AttackRepo stores attack records. It satisfies logging.RecordWriter so it
// can sit behind the async writer next to the JSONL log.
type AttackRepo struct {
	db *DB
}

func NewAttackRepo(db *DB) *AttackRepo {
	return &AttackRepo{db: db}
}

// Write inserts record. A record already stored under the same id is
// ignored.
func (r *AttackRepo) Write(record logging.AttackRecord) error {
	row, err := toRow(record)
	if err != nil {
		return err
	}
	err = r.db.gormDB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_id"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("insert attack %s: %w", record.ID, err)
	}
	return nil
}

type QueryOptions struct {
	SourceIP  string
	RiskLevel string
	Limit     int
}

// Query returns stored attacks oldest first. A zero Limit returns every
// match; otherwise the most recent Limit records are returned.
func (r *AttackRepo) Query(opts QueryOptions) ([]logging.AttackRecord, error) {
	query := r.db.gormDB.Model(&AttackRow{})
	if opts.SourceIP != "" {
		query = query.Where("source_ip = ?", opts.SourceIP)
	}
	if opts.RiskLevel != "" {
		query = query.Where("risk_level = ?", opts.RiskLevel)
	}

	var rows []AttackRow
	if opts.Limit > 0 {
		query = query.Order("timestamp DESC").Order("id DESC").Limit(opts.Limit)
	} else {
		query = query.Order("timestamp ASC").Order("id ASC")
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query attacks: %w", err)
	}
	if opts.Limit > 0 {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	records := make([]logging.AttackRecord, 0, len(rows))
	for _, row := range rows {
		record, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *AttackRepo) Count() (int64, error) {
	var total int64
	if err := r.db.gormDB.Model(&AttackRow{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func toRow(record logging.AttackRecord) (AttackRow, error) {
	patterns := record.DetectedPatterns
	if patterns == nil {
		patterns = []logging.DetectedPattern{}
	}
	data, err := json.Marshal(patterns)
	if err != nil {
		return AttackRow{}, fmt.Errorf("encode patterns: %w", err)
	}
	return AttackRow{
		RecordID:      record.ID,
		Timestamp:     record.Timestamp.UTC(),
		SourceIP:      record.SourceIP,
		URL:           record.URL,
		Location:      record.Location,
		RiskLevel:     record.RiskLevel.String(),
		PatternsJSON:  string(data),
		ContentSample: logging.Truncate(record.ContentSample, logging.MaxSample),
	}, nil
}

func fromRow(row AttackRow) (logging.AttackRecord, error) {
	var patterns []logging.DetectedPattern
	if err := json.Unmarshal([]byte(row.PatternsJSON), &patterns); err != nil {
		return logging.AttackRecord{}, fmt.Errorf("decode patterns of %s: %w", row.RecordID, err)
	}
	risk, err := rules.ParseSeverity(row.RiskLevel)
	if err != nil {
		return logging.AttackRecord{}, fmt.Errorf("decode risk of %s: %w", row.RecordID, err)
	}
	return logging.AttackRecord{
		ID:               row.RecordID,
		Timestamp:        row.Timestamp.UTC(),
		SourceIP:         row.SourceIP,
		URL:              row.URL,
		Location:         row.Location,
		RiskLevel:        risk,
		DetectedPatterns: patterns,
		ContentSample:    row.ContentSample,
	}, nil
}
