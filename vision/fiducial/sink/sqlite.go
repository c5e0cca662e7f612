package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"go.viam.com/markerpose/vision/fiducial/fusion"
)

// Vec3 is a vector stored as three columns.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// StateRow is the table row of one fused state.
type StateRow struct {
	ID          uint      `gorm:"primarykey"`
	Session     string    `gorm:"size:36;index:idx_fused_states_session"`
	MarkerID    int       `gorm:"index:idx_fused_states_marker"`
	Time        time.Time `gorm:"index:idx_fused_states_time"`
	Position    Vec3      `gorm:"embedded;embeddedPrefix:position_"`
	Heading     Vec3      `gorm:"embedded;embeddedPrefix:heading_"`
	HeadingDeg  float64
	SampleCount int
	Cameras     datatypes.JSON
	// Covariances are the row-major 3x3 matrices, null when unknown.
	PositionCovariance datatypes.JSON
	HeadingCovariance  datatypes.JSON
}

// TableName names the table.
func (StateRow) TableName() string {
	return "fused_states"
}

// SQLiteSink stores fused states in a SQLite database.
type SQLiteSink struct {
	db        *gorm.DB
	batchSize int
}

// OpenSQLiteSink opens, creating if needed, the database at path and migrates its schema.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open database %q", path)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, closeOnError(db, errors.Wrapf(err, "cannot set %q", pragma))
		}
	}
	if err := db.AutoMigrate(&StateRow{}); err != nil {
		return nil, closeOnError(db, errors.Wrap(err, "cannot migrate schema"))
	}
	return &SQLiteSink{db: db, batchSize: 500}, nil
}

// closeOnError closes db and returns err along with any close failure.
func closeOnError(db *gorm.DB, err error) error {
	return multierr.Combine(err, closeDB(db))
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func jsonColumn(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func newStateRow(session string, st fusion.FusedState) (StateRow, error) {
	row := StateRow{
		Session:     session,
		MarkerID:    st.ID,
		Time:        st.Time,
		Position:    Vec3{st.Position.X, st.Position.Y, st.Position.Z},
		Heading:     Vec3{st.Heading.X, st.Heading.Y, st.Heading.Z},
		HeadingDeg:  st.HeadingDeg,
		SampleCount: st.SampleCount,
	}
	var err error
	cameras := st.Cameras
	if cameras == nil {
		cameras = []int{}
	}
	if row.Cameras, err = jsonColumn(cameras); err != nil {
		return StateRow{}, err
	}
	if row.PositionCovariance, err = jsonColumn(covariance(st.PositionCovariance)); err != nil {
		return StateRow{}, err
	}
	if row.HeadingCovariance, err = jsonColumn(covariance(st.HeadingCovariance)); err != nil {
		return StateRow{}, err
	}
	return row, nil
}

// Write inserts states.
func (s *SQLiteSink) Write(ctx context.Context, session string, states []fusion.FusedState) error {
	if len(states) == 0 {
		return nil
	}
	rows := make([]StateRow, 0, len(states))
	for _, st := range states {
		row, err := newStateRow(session, st)
		if err != nil {
			return errors.Wrapf(err, "cannot encode marker %d", st.ID)
		}
		rows = append(rows, row)
	}
	return errors.Wrap(s.db.WithContext(ctx).CreateInBatches(rows, s.batchSize).Error, "cannot insert fused states")
}

// States returns the stored states of session ordered by time then marker id.
func (s *SQLiteSink) States(ctx context.Context, session string) ([]StateRow, error) {
	var rows []StateRow
	err := s.db.WithContext(ctx).
		Where("session = ?", session).
		Order("time, marker_id").
		Find(&rows).Error
	return rows, err
}

// Close closes the database.
func (s *SQLiteSink) Close(ctx context.Context) error {
	return closeDB(s.db)
}
