package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adjutant/adjutant/internal/state/store"
)

// DirectoryStore is the SQL-backed structured path: employees, FAQs, tasks.
type DirectoryStore struct {
	db *store.DB
}

func NewDirectoryStore(db *store.DB) *DirectoryStore {
	return &DirectoryStore{db: db}
}

const employeeColumns = `id, name, email, title, department, COALESCE(manager_id, ''), COALESCE(location, '')`

func scanEmployee(row interface{ Scan(...any) error }) (*Employee, error) {
	var e Employee
	err := row.Scan(&e.ID, &e.Name, &e.Email, &e.Title, &e.Department, &e.ManagerID, &e.Location)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EmployeeByID looks up one employee by exact id.
func (s *DirectoryStore) EmployeeByID(ctx context.Context, id string) (*Employee, error) {
	row := s.db.SQLDB().QueryRowContext(ctx,
		s.db.Rebind(`SELECT `+employeeColumns+` FROM employees WHERE id = ?`), id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("employee %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("employee by id: %w", err)
	}
	return e, nil
}

// EmployeeByEmail looks up one employee by exact email, case-insensitive.
func (s *DirectoryStore) EmployeeByEmail(ctx context.Context, email string) (*Employee, error) {
	row := s.db.SQLDB().QueryRowContext(ctx,
		s.db.Rebind(`SELECT `+employeeColumns+` FROM employees WHERE lower(email) = lower(?)`), email)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("employee %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("employee by email: %w", err)
	}
	return e, nil
}

// SearchEmployees matches by name: exact matches first, then substring.
// Returns at most ten rows, exact before fuzzy.
func (s *DirectoryStore) SearchEmployees(ctx context.Context, key string) ([]Employee, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	rows, err := s.db.SQLDB().QueryContext(ctx,
		s.db.Rebind(`SELECT `+employeeColumns+`
			FROM employees
			WHERE lower(name) = lower(?) OR lower(name) LIKE lower(?)
			ORDER BY CASE WHEN lower(name) = lower(?) THEN 0 ELSE 1 END, name
			LIMIT 10`),
		key, "%"+key+"%", key)
	if err != nil {
		return nil, fmt.Errorf("employee search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("employee search scan: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// UpsertEmployee inserts or replaces a directory row.
func (s *DirectoryStore) UpsertEmployee(ctx context.Context, e Employee) error {
	if e.ID == "" {
		e.ID = "emp_" + uuid.NewString()
	}
	_, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`INSERT INTO employees (id, name, email, title, department, manager_id, location)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name, email = excluded.email, title = excluded.title,
				department = excluded.department, manager_id = excluded.manager_id,
				location = excluded.location`),
		e.ID, e.Name, e.Email, e.Title, e.Department, e.ManagerID, e.Location)
	if err != nil {
		return fmt.Errorf("employee upsert: %w", err)
	}
	return nil
}

// SearchFAQs matches question or answer text by substring.
func (s *DirectoryStore) SearchFAQs(ctx context.Context, query string, limit int) ([]FAQ, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.SQLDB().QueryContext(ctx,
		s.db.Rebind(`SELECT id, question, answer, COALESCE(category, '')
			FROM faqs
			WHERE lower(question) LIKE lower(?) OR lower(answer) LIKE lower(?)
			ORDER BY id
			LIMIT ?`),
		"%"+query+"%", "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("faq search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FAQ
	for rows.Next() {
		var f FAQ
		if err := rows.Scan(&f.ID, &f.Question, &f.Answer, &f.Category); err != nil {
			return nil, fmt.Errorf("faq search scan: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertFAQ inserts or replaces a FAQ row.
func (s *DirectoryStore) UpsertFAQ(ctx context.Context, f FAQ) error {
	if f.ID == "" {
		f.ID = "faq_" + uuid.NewString()
	}
	_, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`INSERT INTO faqs (id, question, answer, category)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				question = excluded.question, answer = excluded.answer, category = excluded.category`),
		f.ID, f.Question, f.Answer, f.Category)
	if err != nil {
		return fmt.Errorf("faq upsert: %w", err)
	}
	return nil
}

// TasksFor lists tasks, optionally filtered by assignee employee id and
// status. The assignee name is joined in from the directory.
func (s *DirectoryStore) TasksFor(ctx context.Context, assigneeID, status string) ([]Task, error) {
	q := `SELECT t.id, t.title, COALESCE(e.name, COALESCE(t.assignee_id, '')), t.status, COALESCE(t.due_date, '')
		FROM tasks t LEFT JOIN employees e ON e.id = t.assignee_id`
	var (
		conds []string
		args  []any
	)
	if assigneeID != "" {
		conds = append(conds, "t.assignee_id = ?")
		args = append(args, assigneeID)
	}
	if status != "" {
		conds = append(conds, "t.status = ?")
		args = append(args, status)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY CASE WHEN t.due_date IS NULL OR t.due_date = '' THEN 1 ELSE 0 END, t.due_date, t.id"

	rows, err := s.db.SQLDB().QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("task list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Assignee, &t.Status, &t.DueDate); err != nil {
			return nil, fmt.Errorf("task list scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTask inserts or replaces a task row. assigneeID may be empty.
func (s *DirectoryStore) UpsertTask(ctx context.Context, id, title, assigneeID, status, dueDate string) error {
	if id == "" {
		id = "task_" + uuid.NewString()
	}
	if status == "" {
		status = "open"
	}
	_, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`INSERT INTO tasks (id, title, assignee_id, status, due_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				title = excluded.title, assignee_id = excluded.assignee_id,
				status = excluded.status, due_date = excluded.due_date`),
		id, title, nullable(assigneeID), status, nullable(dueDate),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("task upsert: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
