package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"streetviewai/pkg/domain"
)

const migrateLockID int64 = 51837201

const sqliteScheme = "sqlite://"

type GormStoreOptions struct {
	SlowThreshold time.Duration
	MaxOpenConns  int
}

type GormStoreOption func(*GormStoreOptions)

// WithSlowThreshold sets the duration above which queries are logged as slow.
func WithSlowThreshold(d time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.SlowThreshold = d
	}
}

// WithMaxOpenConns caps the connection pool. Ignored for SQLite, which always uses one.
func WithMaxOpenConns(n int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = n
	}
}

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
// postgres:// URLs and key=value DSNs use Postgres; sqlite://path and file: DSNs use SQLite.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{SlowThreshold: time.Second}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	sqliteDSN, isSQLite := sqlitePath(dsn)
	var dialector gorm.Dialector
	if isSQLite {
		dialector = sqlite.Open(sqliteDSN)
	} else {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ImageModel{}, &AnalysisResultModel{}, &DetectedObjectModel{}, &ExtractedTextModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if isSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		err = migrate(db)
	} else {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		err = withMigrationLock(db, migrate)
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func sqlitePath(dsn string) (string, bool) {
	var path string
	switch {
	case strings.HasPrefix(dsn, sqliteScheme):
		path = strings.TrimPrefix(dsn, sqliteScheme)
	case strings.HasPrefix(dsn, "file:"):
		path = dsn
	default:
		return "", false
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=1&_busy_timeout=5000", true
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database reachability.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GetImageByFilename looks up an image by its unique filename.
func (s *GormStore) GetImageByFilename(ctx context.Context, filename string) (domain.Image, bool, error) {
	var model ImageModel
	if err := s.db.WithContext(ctx).Where("filename = ?", filename).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Image{}, false, nil
		}
		return domain.Image{}, false, err
	}
	return imageFromModel(model), true, nil
}

// CreateImage inserts the image or, when another writer won the race for the
// same filename, returns the row already stored.
func (s *GormStore) CreateImage(ctx context.Context, img domain.Image) (domain.Image, error) {
	model, err := imageToModel(img)
	if err != nil {
		return domain.Image{}, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "filename"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Image{}, res.Error
	}
	if res.RowsAffected > 0 && model.ID != 0 {
		return imageFromModel(model), nil
	}
	existing, ok, err := s.GetImageByFilename(ctx, img.Filename)
	if err != nil {
		return domain.Image{}, err
	}
	if !ok {
		return domain.Image{}, fmt.Errorf("image %q vanished after insert conflict", img.Filename)
	}
	return existing, nil
}

// ListImages returns a page of images, newest first, with analysis counts.
func (s *GormStore) ListImages(ctx context.Context, filter ImageFilter) (int64, []domain.Image, error) {
	var total int64
	if err := s.imageQuery(ctx, filter.AnalyzedOnly).Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var models []ImageModel
	q := s.imageQuery(ctx, filter.AnalyzedOnly).Order("created_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if err := q.Find(&models).Error; err != nil {
		return 0, nil, err
	}
	if len(models) == 0 {
		return total, []domain.Image{}, nil
	}

	ids := make([]int64, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	counts, err := s.countAnalyses(ctx, ids)
	if err != nil {
		return 0, nil, err
	}
	items := make([]domain.Image, 0, len(models))
	for _, m := range models {
		img := imageFromModel(m)
		img.AnalysisCount = counts[m.ID]
		items = append(items, img)
	}
	return total, items, nil
}

// imageQuery filters analyzed images with a semi-join so an image with
// several analyses still appears once.
func (s *GormStore) imageQuery(ctx context.Context, analyzedOnly bool) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&ImageModel{})
	if analyzedOnly {
		q = q.Where("EXISTS (SELECT 1 FROM analysis_results ar WHERE ar.image_id = images.id)")
	}
	return q
}

func (s *GormStore) countAnalyses(ctx context.Context, imageIDs []int64) (map[int64]int64, error) {
	var rows []struct {
		ImageID int64
		Total   int64
	}
	if err := s.db.WithContext(ctx).Model(&AnalysisResultModel{}).
		Select("image_id, COUNT(*) AS total").
		Where("image_id IN ?", imageIDs).
		Group("image_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[int64]int64, len(rows))
	for _, r := range rows {
		counts[r.ImageID] = r.Total
	}
	return counts, nil
}

// GetImageWithAnalyses returns an image and its analyses in insertion order.
func (s *GormStore) GetImageWithAnalyses(ctx context.Context, id int64) (domain.Image, []domain.AnalysisResult, bool, error) {
	var model ImageModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Image{}, nil, false, nil
		}
		return domain.Image{}, nil, false, err
	}
	var models []AnalysisResultModel
	if err := s.db.WithContext(ctx).Where("image_id = ?", id).Order("id ASC").Find(&models).Error; err != nil {
		return domain.Image{}, nil, false, err
	}
	analyses := make([]domain.AnalysisResult, 0, len(models))
	for _, m := range models {
		analyses = append(analyses, analysisFromModel(m))
	}
	img := imageFromModel(model)
	img.AnalysisCount = int64(len(analyses))
	return img, analyses, true, nil
}

// AppendAnalysis records one analysis. Rows are never updated.
func (s *GormStore) AppendAnalysis(ctx context.Context, res domain.AnalysisResult) (domain.AnalysisResult, error) {
	saved, err := s.AppendAnalyses(ctx, []domain.AnalysisResult{res})
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return saved[0], nil
}

// AppendAnalyses records all rows in one transaction.
func (s *GormStore) AppendAnalyses(ctx context.Context, results []domain.AnalysisResult) ([]domain.AnalysisResult, error) {
	if len(results) == 0 {
		return []domain.AnalysisResult{}, nil
	}
	models := make([]AnalysisResultModel, 0, len(results))
	for _, r := range results {
		m, err := analysisToModel(r)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&models).Error
	}); err != nil {
		return nil, err
	}
	saved := make([]domain.AnalysisResult, 0, len(models))
	for _, m := range models {
		saved = append(saved, analysisFromModel(m))
	}
	return saved, nil
}

func imageToModel(img domain.Image) (ImageModel, error) {
	var coords datatypes.JSON
	if img.Coordinates != nil {
		raw, err := json.Marshal(img.Coordinates)
		if err != nil {
			return ImageModel{}, fmt.Errorf("encode coordinates: %w", err)
		}
		coords = datatypes.JSON(raw)
	}
	return ImageModel{
		ID:            img.ID,
		Filename:      img.Filename,
		Filepath:      img.Filepath,
		Address:       optionalString(img.Address),
		Coordinates:   coords,
		GoogleMapsURL: optionalString(img.GoogleMapsURL),
		CapturedAt:    img.CapturedAt,
		Width:         img.Width,
		Height:        img.Height,
		FileSizeBytes: img.FileSizeBytes,
		CreatedAt:     img.CreatedAt,
	}, nil
}

func imageFromModel(m ImageModel) domain.Image {
	img := domain.Image{
		ID:            m.ID,
		Filename:      m.Filename,
		Filepath:      m.Filepath,
		CapturedAt:    m.CapturedAt,
		Width:         m.Width,
		Height:        m.Height,
		FileSizeBytes: m.FileSizeBytes,
		CreatedAt:     m.CreatedAt,
	}
	if m.Address != nil {
		img.Address = *m.Address
	}
	if m.GoogleMapsURL != nil {
		img.GoogleMapsURL = *m.GoogleMapsURL
	}
	if len(m.Coordinates) > 0 {
		var c *domain.Coordinates
		if err := json.Unmarshal(m.Coordinates, &c); err == nil {
			img.Coordinates = c
		}
	}
	return img
}

func analysisToModel(r domain.AnalysisResult) (AnalysisResultModel, error) {
	payload := r.Result
	if payload == nil {
		payload = domain.Payload{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return AnalysisResultModel{}, fmt.Errorf("encode result payload: %w", err)
	}
	analyzedAt := r.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = time.Now().UTC()
	}
	return AnalysisResultModel{
		ImageID:          r.ImageID,
		ModelName:        r.ModelName,
		AnalysisType:     string(r.Kind),
		ResultData:       datatypes.JSON(raw),
		ConfidenceScore:  r.ConfidenceScore,
		ProcessingTimeMS: r.ProcessingTimeMS,
		AnalyzedAt:       analyzedAt,
	}, nil
}

func analysisFromModel(m AnalysisResultModel) domain.AnalysisResult {
	payload := domain.Payload{}
	if len(m.ResultData) > 0 {
		_ = json.Unmarshal(m.ResultData, &payload)
		if payload == nil {
			payload = domain.Payload{}
		}
	}
	return domain.AnalysisResult{
		ID:               m.ID,
		ImageID:          m.ImageID,
		ModelName:        m.ModelName,
		Kind:             domain.AnalysisKind(m.AnalysisType),
		Result:           payload,
		ConfidenceScore:  m.ConfidenceScore,
		ProcessingTimeMS: m.ProcessingTimeMS,
		AnalyzedAt:       m.AnalyzedAt,
	}
}

func optionalString(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}
