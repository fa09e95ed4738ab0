package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/normalize"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/registration"
)

// Store mirrors registration records, their reminder bookkeeping and
// dispatch outcomes in SQLite. The form/CMS layer stays the owner of the
// records; this copy feeds the scheduler and the sheet sync.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New constructs a data access object over db.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Init applies schema changes for the registration, reminder and outcome tables.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS registrations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			phone_digits TEXT NOT NULL DEFAULT '',
			gender TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			age_group TEXT NOT NULL DEFAULT '',
			stay_type TEXT NOT NULL DEFAULT '',
			is_paid INTEGER NOT NULL DEFAULT 0,
			tf_team TEXT NOT NULL DEFAULT '',
			can_provide_ride INTEGER NOT NULL DEFAULT 0,
			ride_details TEXT NOT NULL DEFAULT '',
			pickup_time_description TEXT NOT NULL DEFAULT '',
			tshirt_size TEXT NOT NULL DEFAULT '',
			attendance_day TEXT NOT NULL DEFAULT '',
			attendance_time TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_registrations_unpaid ON registrations(is_paid, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_registrations_phone ON registrations(phone_digits, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS reminder_state (
			registration_id TEXT PRIMARY KEY REFERENCES registrations(id) ON DELETE CASCADE,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_sent_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS dispatch_outcomes (
			job_id TEXT PRIMARY KEY,
			pool TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			record_id TEXT,
			record_name TEXT,
			reason TEXT,
			enqueued_at TIMESTAMP,
			finished_at TIMESTAMP NOT NULL,
			recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_pool ON dispatch_outcomes(pool, finished_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const registrationColumns = `r.id, r.name, r.phone, r.gender, r.department, r.age_group, r.stay_type,
	r.is_paid, r.tf_team, r.can_provide_ride, r.ride_details, r.pickup_time_description,
	r.tshirt_size, r.attendance_day, r.attendance_time, r.created_at,
	COALESCE(st.attempt_count, 0), st.last_sent_at`

// UpsertRegistration inserts or replaces every field of rec. Reminder
// state is left untouched.
func (s *Store) UpsertRegistration(ctx context.Context, rec registration.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("registration id required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registrations(id, name, phone, phone_digits, gender, department, age_group, stay_type,
			is_paid, tf_team, can_provide_ride, ride_details, pickup_time_description, tshirt_size,
			attendance_day, attendance_time, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone,
			phone_digits = excluded.phone_digits, gender = excluded.gender,
			department = excluded.department, age_group = excluded.age_group,
			stay_type = excluded.stay_type, is_paid = excluded.is_paid, tf_team = excluded.tf_team,
			can_provide_ride = excluded.can_provide_ride, ride_details = excluded.ride_details,
			pickup_time_description = excluded.pickup_time_description,
			tshirt_size = excluded.tshirt_size, attendance_day = excluded.attendance_day,
			attendance_time = excluded.attendance_time, updated_at = excluded.updated_at`,
		rec.ID, rec.Name, rec.Phone, normalize.PhoneDigits(rec.Phone), rec.Gender, rec.Department,
		rec.AgeGroup, rec.StayType, rec.IsPaid, rec.TFTeam, rec.CanProvideRide, rec.RideDetails,
		rec.PickupTimeDescription, rec.TShirtSize, rec.AttendanceDay, rec.AttendanceTime,
		rec.CreatedAt.UTC(), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert registration: %w", err)
	}
	return nil
}

// GetRegistration fetches one record with its reminder state.
func (s *Store) GetRegistration(ctx context.Context, id string) (registration.Tracked, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations r LEFT JOIN reminder_state st ON st.registration_id = r.id
		 WHERE r.id = ?`, id)
	tracked, err := scanTracked(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registration.Tracked{}, err
		}
		return registration.Tracked{}, fmt.Errorf("get registration: %w", err)
	}
	return tracked, nil
}

// ListRegistrations returns every record with its reminder state, oldest first.
func (s *Store) ListRegistrations(ctx context.Context) ([]registration.Tracked, error) {
	return s.queryTracked(ctx, `SELECT `+registrationColumns+`
		FROM registrations r LEFT JOIN reminder_state st ON st.registration_id = r.id
		ORDER BY r.created_at ASC, r.id ASC`)
}

func (s *Store) queryTracked(ctx context.Context, query string, args ...any) ([]registration.Tracked, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()
	var out []registration.Tracked
	for rows.Next() {
		tracked, err := scanTracked(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		out = append(out, tracked)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter registrations: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTracked(row scanner) (registration.Tracked, error) {
	var (
		t        registration.Tracked
		lastSent sql.NullTime
	)
	r := &t.Record
	if err := row.Scan(
		&r.ID, &r.Name, &r.Phone, &r.Gender, &r.Department, &r.AgeGroup, &r.StayType,
		&r.IsPaid, &r.TFTeam, &r.CanProvideRide, &r.RideDetails, &r.PickupTimeDescription,
		&r.TShirtSize, &r.AttendanceDay, &r.AttendanceTime, &r.CreatedAt,
		&t.Reminder.AttemptCount, &lastSent,
	); err != nil {
		return registration.Tracked{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	if lastSent.Valid {
		ts := lastSent.Time.UTC()
		t.Reminder.LastSentAt = &ts
	}
	return t, nil
}

// fieldColumns whitelists the columns a single-field update may touch.
var fieldColumns = map[string]string{
	registration.KeyName:                  "name",
	registration.KeyPhone:                 "phone",
	registration.KeyGender:                "gender",
	registration.KeyDepartment:            "department",
	registration.KeyAgeGroup:              "age_group",
	registration.KeyStayType:              "stay_type",
	registration.KeyIsPaid:                "is_paid",
	registration.KeyTFTeam:                "tf_team",
	registration.KeyCanProvideRide:        "can_provide_ride",
	registration.KeyRideDetails:           "ride_details",
	registration.KeyPickupTimeDescription: "pickup_time_description",
	registration.KeyTShirtSize:            "tshirt_size",
	registration.KeyAttendanceDay:         "attendance_day",
	registration.KeyAttendanceTime:        "attendance_time",
}

// UpdateField writes one normalized field. It returns sql.ErrNoRows when
// the record is not mirrored here.
func (s *Store) UpdateField(ctx context.Context, id, key string, value any) error {
	column, ok := fieldColumns[key]
	if !ok {
		return fmt.Errorf("update field: %s is not editable", key)
	}
	var probe registration.Record
	if err := probe.Set(key, value); err != nil {
		return fmt.Errorf("update field: %w", err)
	}

	set := column + " = ?"
	args := []any{value}
	if key == registration.KeyPhone {
		set += ", phone_digits = ?"
		args = append(args, normalize.PhoneDigits(value.(string)))
	}
	args = append(args, s.now().UTC(), id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE registrations SET %s, updated_at = ? WHERE id = ?`, set), args...)
	if err != nil {
		return fmt.Errorf("update field: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkReminderSent increments the attempt count and stamps lastSentAt.
func (s *Store) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_state(registration_id, attempt_count, last_sent_at) VALUES(?, 1, ?)
		 ON CONFLICT(registration_id) DO UPDATE SET attempt_count = attempt_count + 1,
			last_sent_at = excluded.last_sent_at`,
		id, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}
