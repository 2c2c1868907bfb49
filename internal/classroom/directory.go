package classroom

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrCodeTaken means the class code is already registered.
var ErrCodeTaken = errors.New("class code already in use")

// Classroom is the minimal record the attendance core needs: enough to answer
// existence checks and label reports. Rosters and teacher profiles live
// elsewhere.
type Classroom struct {
	ClassroomID string    `json:"classroomId"`
	CourseName  string    `json:"courseName"`
	ClassCode   string    `json:"classCode"`
	TeacherName string    `json:"teacherName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Directory looks up and registers classrooms in Postgres.
type Directory struct {
	db *sql.DB
}

// NewDirectory creates a directory.
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Exists reports whether the classroom id is known.
func (d *Directory) Exists(ctx context.Context, classroomID string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, `
		SELECT 1 FROM classrooms WHERE classroom_id = $1
	`, classroomID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get returns a classroom by id, or nil when absent.
func (d *Directory) Get(ctx context.Context, classroomID string) (*Classroom, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT classroom_id, course_name, class_code, teacher_name, created_at
		FROM classrooms WHERE classroom_id = $1
	`, classroomID)
	var c Classroom
	err := row.Scan(&c.ClassroomID, &c.CourseName, &c.ClassCode, &c.TeacherName, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create registers a classroom. Class codes are stored uppercase and must be
// unique.
func (d *Directory) Create(ctx context.Context, courseName, classCode, teacherName string) (Classroom, error) {
	c := Classroom{
		ClassroomID: uuid.NewString(),
		CourseName:  strings.TrimSpace(courseName),
		ClassCode:   strings.ToUpper(strings.TrimSpace(classCode)),
		TeacherName: strings.TrimSpace(teacherName),
	}
	row := d.db.QueryRowContext(ctx, `
		INSERT INTO classrooms (classroom_id, course_name, class_code, teacher_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (class_code) DO NOTHING
		RETURNING created_at
	`, c.ClassroomID, c.CourseName, c.ClassCode, c.TeacherName)
	if err := row.Scan(&c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Classroom{}, ErrCodeTaken
		}
		return Classroom{}, err
	}
	return c, nil
}
