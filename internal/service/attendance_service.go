package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/optimistic"
)

type attendanceRepository interface {
	ListByDate(ctx context.Context, date string) ([]models.AttendanceRecord, error)
	SaveAll(ctx context.Context, records []models.AttendanceRecord) error
}

type studentDirectory interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
	ListByRole(ctx context.Context, role models.UserRole, search string) ([]models.Profile, error)
}

type attendanceMetrics interface {
	ObserveAttendanceBatch(size int, err error)
}

// attendanceBoard is the in-memory marking state of one date. Records are
// keyed by student id.
type attendanceBoard struct {
	records *optimistic.Map[string, models.AttendanceRecord]

	// writeMu serialises batches and reloads of the same date.
	writeMu sync.Mutex
	loaded  bool

	errMu     sync.Mutex
	lastError *string

	// lastUsed is guarded by AttendanceService.mu.
	lastUsed time.Time
}

func (b *attendanceBoard) setError(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if err == nil {
		b.lastError = nil
		return
	}
	msg := err.Error()
	b.lastError = &msg
}

func (b *attendanceBoard) errorMessage() *string {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.lastError == nil {
		return nil
	}
	msg := *b.lastError
	return &msg
}

// AttendanceService marks attendance for a class, one date at a time.
type AttendanceService struct {
	repo      attendanceRepository
	students  studentDirectory
	validator *validator.Validate
	logger    *zap.Logger
	metrics   attendanceMetrics
	now       func() time.Time

	mu        sync.Mutex
	boards    map[string]*attendanceBoard
	maxBoards int
}

// maxAttendanceBoards bounds the dates kept in memory. Older boards are
// reloaded from the store on their next use.
const maxAttendanceBoards = 62

// NewAttendanceService constructs the attendance service. metrics may be nil.
func NewAttendanceService(repo attendanceRepository, students studentDirectory, validate *validator.Validate, logger *zap.Logger, metrics attendanceMetrics) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		repo:      repo,
		students:  students,
		validator: ensureValidator(validate),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		boards:    make(map[string]*attendanceBoard),
		maxBoards: maxAttendanceBoards,
	}
}

// Board returns the marking view of date. With refresh the stored records
// are reloaded once in-flight batches for that date have finished.
func (s *AttendanceService) Board(ctx context.Context, date string, refresh bool) (*models.AttendanceBoard, error) {
	if !validCalendarDate(date) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be formatted as YYYY-MM-DD")
	}
	board := s.board(date)
	if refresh {
		board.writeMu.Lock()
		board.loaded = false
		err := s.ensureLoaded(ctx, date, board)
		board.writeMu.Unlock()
		if err != nil {
			return nil, err
		}
	} else if err := s.loadForRead(ctx, date, board); err != nil {
		return nil, err
	}

	students, err := s.students.ListByRole(ctx, models.RoleStudent, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return buildBoard(date, students, board), nil
}

// BulkUpdate sets status for every student matching search on date in one
// atomic batch. The board shows the new statuses before the batch commits
// and is restored if the store rejects it.
func (s *AttendanceService) BulkUpdate(ctx context.Context, date string, status models.AttendanceStatus, search string, actor *models.JWTClaims) (*dto.BulkAttendanceResponse, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	status = models.AttendanceStatus(strings.TrimSpace(string(status)))
	if err := s.validator.Struct(dto.BulkAttendanceRequest{Date: date, Status: status, Search: search}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	students, err := s.students.ListByRole(ctx, models.RoleStudent, search)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	ids := make([]string, len(students))
	for i, st := range students {
		ids[i] = st.ID
	}

	board, err := s.write(ctx, date, status, ids, actor.UserID)
	if err != nil {
		return nil, err
	}

	all := students
	if search != "" {
		if all, err = s.students.ListByRole(ctx, models.RoleStudent, ""); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
		}
	}
	s.logger.Info("attendance batch committed",
		zap.String("date", date),
		zap.String("status", string(status)),
		zap.Int("students", len(ids)),
		zap.String("actor_id", actor.UserID),
	)
	return &dto.BulkAttendanceResponse{Date: date, Written: len(ids), Board: *buildBoard(date, all, board)}, nil
}

// BulkCustomStatus applies a free-form label with the same semantics as
// BulkUpdate.
func (s *AttendanceService) BulkCustomStatus(ctx context.Context, date, label, search string, actor *models.JWTClaims) (*dto.BulkAttendanceResponse, error) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "custom status label is required")
	}
	return s.BulkUpdate(ctx, date, models.AttendanceStatus(trimmed), search, actor)
}

// UpdateStatus sets one student's status on date.
func (s *AttendanceService) UpdateStatus(ctx context.Context, date, studentID string, status models.AttendanceStatus, actor *models.JWTClaims) (*models.AttendanceRecord, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	status = models.AttendanceStatus(strings.TrimSpace(string(status)))
	if err := s.validator.Struct(dto.UpdateAttendanceRequest{Date: date, Status: status}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	student, err := s.students.Get(ctx, studentID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	board, err := s.write(ctx, date, status, []string{studentID}, actor.UserID)
	if err != nil {
		return nil, err
	}
	rec, _ := board.records.Get(studentID)
	return &rec, nil
}

// write commits one Set per student and keeps the board in step with the
// outcome.
func (s *AttendanceService) write(ctx context.Context, date string, status models.AttendanceStatus, studentIDs []string, actorID string) (*attendanceBoard, error) {
	board := s.board(date)
	board.writeMu.Lock()
	defer board.writeMu.Unlock()

	if err := s.ensureLoaded(ctx, date, board); err != nil {
		return nil, err
	}
	if len(studentIDs) == 0 {
		return board, nil
	}

	tentative := s.now().UTC()
	records := make([]models.AttendanceRecord, 0, len(studentIDs))
	changes := make(map[string]models.AttendanceRecord, len(studentIDs))
	for _, id := range studentIDs {
		rec := models.AttendanceRecord{
			ID:        models.AttendanceID(date, id),
			StudentID: id,
			Date:      date,
			Status:    status,
			MarkedBy:  actorID,
			UpdatedAt: tentative,
			Pending:   true,
		}
		records = append(records, rec)
		changes[id] = rec
	}

	err := board.records.Apply(ctx, changes, func(ctx context.Context) error {
		return s.repo.SaveAll(ctx, records)
	})
	if s.metrics != nil {
		s.metrics.ObserveAttendanceBatch(len(records), err)
	}
	if err != nil {
		board.setError(err)
		s.logger.Error("attendance batch rejected", zap.String("date", date), zap.Int("students", len(records)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrBatchRejected.Code, appErrors.ErrBatchRejected.Status, "attendance batch was rejected; no records were changed")
	}

	for id, rec := range changes {
		rec.Pending = false
		changes[id] = rec
	}
	board.records.Store(changes)
	board.setError(nil)
	return board, nil
}

func (s *AttendanceService) authorize(actor *models.JWTClaims) error {
	if actor == nil || !actor.Role.CanMarkAttendance() {
		return appErrors.Clone(appErrors.ErrForbidden, "only class monitors and administrators mark attendance")
	}
	return nil
}

func (s *AttendanceService) board(date string) *attendanceBoard {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[date]
	if !ok {
		if len(s.boards) >= s.maxBoards {
			s.evictLocked()
		}
		b = &attendanceBoard{records: optimistic.NewMap[string, models.AttendanceRecord]()}
		s.boards[date] = b
	}
	b.lastUsed = s.now()
	return b
}

// evictLocked drops the least recently used board that has no batch or load
// in flight. s.mu must be held.
func (s *AttendanceService) evictLocked() {
	dates := make([]string, 0, len(s.boards))
	for date := range s.boards {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool {
		return s.boards[dates[i]].lastUsed.Before(s.boards[dates[j]].lastUsed)
	})
	for _, date := range dates {
		b := s.boards[date]
		if !b.writeMu.TryLock() {
			continue
		}
		b.writeMu.Unlock()
		delete(s.boards, date)
		return
	}
}

// loadForRead loads a board that has never been read without waiting for
// batches, so tentative records stay visible while a commit is in flight.
func (s *AttendanceService) loadForRead(ctx context.Context, date string, board *attendanceBoard) error {
	if !board.writeMu.TryLock() {
		return nil
	}
	defer board.writeMu.Unlock()
	return s.ensureLoaded(ctx, date, board)
}

// ensureLoaded must be called with board.writeMu held.
func (s *AttendanceService) ensureLoaded(ctx context.Context, date string, board *attendanceBoard) error {
	if board.loaded {
		return nil
	}
	records, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	values := make(map[string]models.AttendanceRecord, len(records))
	for _, rec := range records {
		values[rec.StudentID] = rec
	}
	board.records.Replace(values)
	board.loaded = true
	return nil
}

func buildBoard(date string, students []models.Profile, board *attendanceBoard) *models.AttendanceBoard {
	records := board.records.Snapshot()
	out := &models.AttendanceBoard{
		Date:      date,
		Rows:      make([]models.AttendanceRow, 0, len(students)),
		Counts:    make(map[string]int),
		LastError: board.errorMessage(),
	}
	for _, st := range students {
		row := models.AttendanceRow{Student: st.Summary()}
		if rec, ok := records[st.ID]; ok {
			rec := rec
			row.Record = &rec
			out.Counts[string(rec.Status)]++
		}
		out.Rows = append(out.Rows, row)
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		return strings.ToLower(out.Rows[i].Student.DisplayName) < strings.ToLower(out.Rows[j].Student.DisplayName)
	})
	return out
}
