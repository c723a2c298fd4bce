// Package attendance marks daily batch attendance: geofenced self check-in,
// automatic absentees after class and housekeeping of old records.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/iti-mocktest/internal/docstore"
)

const (
	DefaultRadiusMeters  = 100
	DefaultRetentionDays = 365
)

type Options struct {
	DatabaseID           string
	BatchesCollection    string
	AttendanceCollection string
	HolidaysCollection   string
	ProfilesCollection   string

	DefaultRadius float64
	RetentionDays int
	Now           func() time.Time
	Logger        *zap.Logger
}

type Service struct {
	store      docstore.Store
	batches    string
	attendance string
	holidays   string
	profiles   string

	radius    float64
	retention int
	now       func() time.Time
	log       *zap.Logger
}

func NewService(store docstore.Store, opts Options) *Service {
	if opts.DefaultRadius <= 0 {
		opts.DefaultRadius = DefaultRadiusMeters
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		batches:    docstore.Collection(opts.DatabaseID, opts.BatchesCollection),
		attendance: docstore.Collection(opts.DatabaseID, opts.AttendanceCollection),
		holidays:   docstore.Collection(opts.DatabaseID, opts.HolidaysCollection),
		profiles:   docstore.Collection(opts.DatabaseID, opts.ProfilesCollection),
		radius:     opts.DefaultRadius,
		retention:  opts.RetentionDays,
		now:        opts.Now,
		log:        opts.Logger,
	}
}

func (s *Service) dayOr(date string) (string, error) {
	if date == "" {
		return Day(s.now()), nil
	}
	if _, err := parseDay(date); err != nil {
		return "", fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidPayload, date)
	}
	return date, nil
}

func (s *Service) batch(ctx context.Context, id string) (Batch, error) {
	d, err := s.store.Get(ctx, s.batches, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Batch{}, ErrBatchNotFound
	}
	if err != nil {
		return Batch{}, err
	}
	var b Batch
	if err := d.Decode(&b); err != nil {
		return Batch{}, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return b, nil
}

// isHoliday checks institute-wide holidays (no batchId) and batch ones.
func (s *Service) isHoliday(ctx context.Context, batchID, date string) (bool, error) {
	page, err := s.store.List(ctx, s.holidays, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Equal("date", date),
			docstore.Or(docstore.IsNull("batchId"), docstore.Equal("batchId", batchID)),
		},
		Limit: 1,
	})
	if err != nil {
		return false, fmt.Errorf("list holidays: %w", err)
	}
	return page.Total > 0, nil
}

// ---- markPresent ----

type MarkPresentInput struct {
	UserID    string   `json:"userId" validate:"required"`
	BatchID   string   `json:"batchId" validate:"required"`
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	Date      string   `json:"date"`
}

// MarkPresent records the user present when the device is inside the batch
// geofence. Only users whose profile names the batch may check in. One record
// exists per user, batch and date.
func (s *Service) MarkPresent(ctx context.Context, in MarkPresentInput) (Record, error) {
	if in.Latitude == nil || in.Longitude == nil {
		return Record{}, fmt.Errorf("%w: coordinates required", ErrInvalidPayload)
	}
	date, err := s.dayOr(in.Date)
	if err != nil {
		return Record{}, err
	}
	b, err := s.batch(ctx, in.BatchID)
	if err != nil {
		return Record{}, err
	}
	if b.Location == nil {
		return Record{}, fmt.Errorf("batch %s has no location", in.BatchID)
	}
	if err := s.enrolled(ctx, in.UserID, in.BatchID); err != nil {
		return Record{}, err
	}
	holiday, err := s.isHoliday(ctx, in.BatchID, date)
	if err != nil {
		return Record{}, err
	}
	if holiday {
		return Record{}, ErrHoliday
	}

	radius := b.Radius
	if radius <= 0 {
		radius = s.radius
	}
	device := Coord{Latitude: *in.Latitude, Longitude: *in.Longitude}
	dist, ok := Within(device, *b.Location, radius)
	if !ok {
		s.log.Info("check-in outside geofence",
			zap.String("userId", in.UserID), zap.String("batchId", in.BatchID),
			zap.Float64("distanceMeters", dist), zap.Float64("radiusMeters", radius))
		return Record{}, fmt.Errorf("%w: %.0fm from the batch, limit %.0fm", ErrOutsideGeofence, dist, radius)
	}

	rec := Record{
		UserID:         in.UserID,
		BatchID:        in.BatchID,
		Date:           date,
		Status:         StatusPresent,
		MarkedAt:       s.now().UTC(),
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		DistanceMeters: &dist,
	}
	created, err := s.create(ctx, rec)
	if errors.Is(err, docstore.ErrConflict) {
		return Record{}, ErrAlreadyMarked
	}
	return created, err
}

func (s *Service) enrolled(ctx context.Context, userID, batchID string) error {
	page, err := s.store.List(ctx, s.profiles, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Equal("userId", userID),
			docstore.Equal("batchId", batchID),
		},
		Limit: 1,
	})
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	if page.Total == 0 {
		return fmt.Errorf("%w: %s in %s", ErrNotInBatch, userID, batchID)
	}
	return nil
}

func (s *Service) create(ctx context.Context, rec Record) (Record, error) {
	data, err := docstore.ToData(rec)
	if err != nil {
		return Record{}, err
	}
	d, err := s.store.Create(ctx, s.attendance, docstore.CreateInput{
		UniqueKey: recordKey(rec.UserID, rec.BatchID, rec.Date),
		Data:      data,
	})
	if err != nil {
		return Record{}, err
	}
	rec.ID = d.ID
	return rec, nil
}

// ---- autoMarkAbsentees ----

type AbsenteesInput struct {
	BatchID string `json:"batchId"`
	Date    string `json:"date"`
}

type AbsenteesResult struct {
	Date            string   `json:"date"`
	Batches         int      `json:"batches"`
	Marked          int      `json:"marked"`
	AlreadyRecorded int      `json:"alreadyRecorded"`
	HolidayBatches  []string `json:"holidayBatches"`
}

// AutoMarkAbsentees gives every student of the batch (or of every batch)
// without a record for the date an absent record. Holidays are skipped.
func (s *Service) AutoMarkAbsentees(ctx context.Context, in AbsenteesInput) (AbsenteesResult, error) {
	date, err := s.dayOr(in.Date)
	if err != nil {
		return AbsenteesResult{}, err
	}
	var batchIDs []string
	if in.BatchID != "" {
		if _, err := s.batch(ctx, in.BatchID); err != nil {
			return AbsenteesResult{}, err
		}
		batchIDs = []string{in.BatchID}
	} else {
		docs, err := docstore.ListAll(ctx, s.store, s.batches, docstore.Query{Select: []string{docstore.FieldID}})
		if err != nil {
			return AbsenteesResult{}, fmt.Errorf("list batches: %w", err)
		}
		for _, d := range docs {
			batchIDs = append(batchIDs, d.ID)
		}
	}

	res := AbsenteesResult{Date: date, HolidayBatches: []string{}}
	for _, id := range batchIDs {
		holiday, err := s.isHoliday(ctx, id, date)
		if err != nil {
			return res, err
		}
		if holiday {
			res.HolidayBatches = append(res.HolidayBatches, id)
			continue
		}
		marked, already, err := s.markBatchAbsentees(ctx, id, date)
		if err != nil {
			return res, fmt.Errorf("batch %s: %w", id, err)
		}
		res.Batches++
		res.Marked += marked
		res.AlreadyRecorded += already
	}
	s.log.Info("absentees marked",
		zap.String("date", date), zap.Int("batches", res.Batches),
		zap.Int("marked", res.Marked), zap.Strings("holidayBatches", res.HolidayBatches))
	return res, nil
}

func (s *Service) markBatchAbsentees(ctx context.Context, batchID, date string) (marked, already int, err error) {
	students, err := docstore.ListAll(ctx, s.store, s.profiles, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Equal("batchId", batchID),
			docstore.Equal("role", "student"),
		},
		Select: []string{"userId"},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("list students: %w", err)
	}
	existing, err := docstore.ListAll(ctx, s.store, s.attendance, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Equal("batchId", batchID),
			docstore.Equal("date", date),
		},
		Select: []string{"userId"},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("list attendance: %w", err)
	}
	recorded := make(map[string]bool, len(existing))
	for _, d := range existing {
		if uid, ok := d.Field("userId"); ok {
			recorded[fmt.Sprint(uid)] = true
		}
	}

	now := s.now().UTC()
	for _, d := range students {
		var p Profile
		if err := d.Decode(&p); err != nil {
			return marked, already, err
		}
		if p.UserID == "" {
			continue
		}
		if recorded[p.UserID] {
			already++
			continue
		}
		_, err := s.create(ctx, Record{
			UserID: p.UserID, BatchID: batchID, Date: date,
			Status: StatusAbsent, MarkedAt: now, Auto: true,
		})
		if errors.Is(err, docstore.ErrConflict) {
			// checked in between our read and write
			already++
			continue
		}
		if err != nil {
			return marked, already, err
		}
		recorded[p.UserID] = true
		marked++
	}
	return marked, already, nil
}

// ---- updateAttendance ----

type UpdateInput struct {
	AttendanceID string `json:"attendanceId" validate:"required"`
	Status       Status `json:"status" validate:"required,oneof=present absent leave"`
}

func (s *Service) UpdateAttendance(ctx context.Context, in UpdateInput) (Record, error) {
	d, err := s.store.Update(ctx, s.attendance, in.AttendanceID, map[string]any{
		"status": string(in.Status),
		"auto":   false,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := d.Decode(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ---- cleanupOld ----

type CleanupInput struct {
	OlderThanDays int `json:"olderThanDays" validate:"omitempty,min=1"`
}

type CleanupResult struct {
	Cutoff  string `json:"cutoff"`
	Deleted int    `json:"deleted"`
}

// CleanupOld deletes records dated before today minus the retention window.
func (s *Service) CleanupOld(ctx context.Context, in CleanupInput) (CleanupResult, error) {
	days := in.OlderThanDays
	if days <= 0 {
		days = s.retention
	}
	cutoff := Day(s.now().In(Zone).AddDate(0, 0, -days))
	old, err := docstore.ListAll(ctx, s.store, s.attendance, docstore.Query{
		Filters: []docstore.Filter{docstore.LessThan("date", cutoff)},
		Select:  []string{docstore.FieldID},
	})
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list old records: %w", err)
	}
	res := CleanupResult{Cutoff: cutoff}
	for _, d := range old {
		err := s.store.Delete(ctx, s.attendance, d.ID)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("delete %s: %w", d.ID, err)
		}
		res.Deleted++
	}
	s.log.Info("old attendance removed", zap.String("cutoff", cutoff), zap.Int("deleted", res.Deleted))
	return res, nil
}
