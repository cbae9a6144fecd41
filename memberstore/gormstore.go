package memberstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spilltree/spilltree/membertree"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type memberRecord struct {
	Code           string `gorm:"primaryKey"`
	MemberID       string `gorm:"column:member_id;uniqueIndex"`
	Name           string
	Email          string `gorm:"uniqueIndex"`
	SponsorCode    string `gorm:"index"`
	ParentCode     string `gorm:"index"`
	Position       string
	LeftChildCode  string
	RightChildCode string
	LeftCount      int64
	RightCount     int64
	JoinedAt       time.Time `gorm:"index"`
}

func (memberRecord) TableName() string {
	return "members"
}

// treeRevision is a single row whose counter guards every commit.
type treeRevision struct {
	ID  uint `gorm:"primaryKey"`
	Rev uint64
}

func (treeRevision) TableName() string {
	return "tree_revision"
}

const revisionRowID = 1

// commitBatchSize keeps bulk imports under the bind parameter limits of both sqlite and postgres.
const commitBatchSize = 500

func recordFromMember(m *membertree.Member) memberRecord {
	return memberRecord{
		Code:           m.Code,
		MemberID:       m.ID,
		Name:           m.Name,
		Email:          m.Email,
		SponsorCode:    m.SponsorCode,
		ParentCode:     m.ParentCode,
		Position:       string(m.Position),
		LeftChildCode:  m.LeftChildCode,
		RightChildCode: m.RightChildCode,
		LeftCount:      m.LeftCount,
		RightCount:     m.RightCount,
		JoinedAt:       m.JoinedAt.UTC(),
	}
}

func (r *memberRecord) member() membertree.Member {
	return membertree.Member{
		ID:             r.MemberID,
		Code:           r.Code,
		Name:           r.Name,
		Email:          r.Email,
		SponsorCode:    r.SponsorCode,
		ParentCode:     r.ParentCode,
		Position:       membertree.Position(r.Position),
		LeftChildCode:  r.LeftChildCode,
		RightChildCode: r.RightChildCode,
		LeftCount:      r.LeftCount,
		RightCount:     r.RightCount,
		JoinedAt:       r.JoinedAt.UTC(),
	}
}

// GormStore keeps members in a SQL table. Commits bump the tree_revision row with a
// compare-and-set UPDATE inside the same transaction as the member upserts, so two writers
// racing on one database cannot both succeed from the same base revision.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger

	// snapshotOpts makes snapshot reads see one consistent view on servers where the default
	// isolation level is read-committed. sqlite transactions are already serializable.
	snapshotOpts []*sql.TxOptions
}

var _ Store = (*GormStore)(nil)

func NewGormStore(ctx context.Context, db *gorm.DB, logger *slog.Logger) (*GormStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.WithContext(ctx).AutoMigrate(&memberRecord{}, &treeRevision{}); err != nil {
		return nil, fmt.Errorf("migrating member tables: %w", err)
	}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&treeRevision{ID: revisionRowID}).Error; err != nil {
		return nil, fmt.Errorf("initializing tree revision: %w", err)
	}

	s := &GormStore{
		db:     db,
		logger: logger.With("backend", "gorm", "dialect", db.Dialector.Name()),
	}
	if db.Dialector.Name() == "postgres" {
		s.snapshotOpts = []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead, ReadOnly: true}}
	}
	return s, nil
}

func (s *GormStore) Snapshot(ctx context.Context) ([]membertree.Member, uint64, error) {
	var (
		rev  treeRevision
		recs []memberRecord
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rev, revisionRowID).Error; err != nil {
			return fmt.Errorf("reading tree revision: %w", err)
		}
		return tx.Order("joined_at, code").Find(&recs).Error
	}, s.snapshotOpts...)
	if err != nil {
		return nil, 0, err
	}

	out := make([]membertree.Member, len(recs))
	for i := range recs {
		out[i] = recs[i].member()
	}
	return out, rev.Rev, nil
}

func (s *GormStore) Revision(ctx context.Context) (uint64, error) {
	var rev treeRevision
	if err := s.db.WithContext(ctx).First(&rev, revisionRowID).Error; err != nil {
		return 0, fmt.Errorf("reading tree revision: %w", err)
	}
	return rev.Rev, nil
}

func (s *GormStore) Commit(ctx context.Context, base uint64, changed []membertree.Member) (uint64, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&treeRevision{}).Where("id = ? AND rev = ?", revisionRowID, base).Update("rev", base+1)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: tree revision moved past %d", membertree.ErrConcurrentModification, base)
		}
		if len(changed) == 0 {
			return nil
		}

		recs := make([]memberRecord, len(changed))
		for i := range changed {
			recs[i] = recordFromMember(&changed[i])
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			UpdateAll: true,
		}).CreateInBatches(recs, commitBatchSize).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// the code conflict is an upsert, so only the email or id unique index can fire here
		return 0, fmt.Errorf("%w: %w", membertree.ErrDuplicateEmail, err)
	}
	if err != nil {
		return 0, err
	}
	s.logger.Debug("committed members", "rev", base+1, "changed", len(changed))
	return base + 1, nil
}

func (s *GormStore) Close() error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}
