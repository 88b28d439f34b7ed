package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists board entities as whole documents: ordered child-id
// lists and embedded replies live in JSONB columns. Save replaces the stored
// row, so two concurrent load-append-save cycles against the same parent are
// last-writer-wins; the intervening append can be lost. Accepted for the
// traffic profile.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	boards, err := json.Marshal(idList(user.TaskboardIDs))
	if err != nil {
		return fmt.Errorf("marshal taskboard ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, taskboard_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Username, user.PasswordHash, user.Role, boards, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveUser(ctx context.Context, user User) error {
	boards, err := json.Marshal(idList(user.TaskboardIDs))
	if err != nil {
		return fmt.Errorf("marshal taskboard ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE users SET username=$2, password_hash=$3, role=$4, taskboard_ids=$5 WHERE id=$1
	`, user.ID, user.Username, user.PasswordHash, user.Role, boards)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

const userColumns = `id, username, password_hash, role, taskboard_ids, created_at`

func (s *PostgresStore) FindUserByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	return scanUser(row)
}

func (s *PostgresStore) FindUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
	return scanUser(row)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var boards []byte
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &boards, &user.CreatedAt); err != nil {
		return User{}, err
	}
	if err := json.Unmarshal(boards, &user.TaskboardIDs); err != nil {
		return User{}, fmt.Errorf("unmarshal taskboard ids: %w", err)
	}
	return user, nil
}

// ── taskboards ──

const taskboardColumns = `id, name, description, created_by, task_ids, user_ids, admin_ids, created_at`

func (s *PostgresStore) CreateTaskboard(ctx context.Context, taskboard Taskboard) error {
	tasks, users, admins, err := marshalBoardLists(taskboard)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO taskboards (id, name, description, created_by, task_ids, user_ids, admin_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, taskboard.ID, taskboard.Name, taskboard.Description, taskboard.CreatedBy, tasks, users, admins, taskboard.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert taskboard: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveTaskboard(ctx context.Context, taskboard Taskboard) error {
	tasks, users, admins, err := marshalBoardLists(taskboard)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE taskboards SET name=$2, description=$3, task_ids=$4, user_ids=$5, admin_ids=$6 WHERE id=$1
	`, taskboard.ID, taskboard.Name, taskboard.Description, tasks, users, admins)
	if err != nil {
		return fmt.Errorf("save taskboard: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindTaskboard(ctx context.Context, id string) (Taskboard, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskboardColumns+` FROM taskboards WHERE id=$1`, id)
	return scanTaskboard(row)
}

func (s *PostgresStore) ListTaskboards(ctx context.Context) ([]Taskboard, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskboardColumns+` FROM taskboards ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list taskboards: %w", err)
	}
	defer rows.Close()

	var taskboards []Taskboard
	for rows.Next() {
		taskboard, err := scanTaskboard(rows)
		if err != nil {
			return nil, err
		}
		taskboards = append(taskboards, taskboard)
	}
	return taskboards, rows.Err()
}

func marshalBoardLists(taskboard Taskboard) (tasks, users, admins []byte, err error) {
	if tasks, err = json.Marshal(idList(taskboard.TaskIDs)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal task ids: %w", err)
	}
	if users, err = json.Marshal(idList(taskboard.UserIDs)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal user ids: %w", err)
	}
	if admins, err = json.Marshal(idList(taskboard.AdminIDs)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal admin ids: %w", err)
	}
	return tasks, users, admins, nil
}

func scanTaskboard(row rowScanner) (Taskboard, error) {
	var taskboard Taskboard
	var tasks, users, admins []byte
	err := row.Scan(&taskboard.ID, &taskboard.Name, &taskboard.Description, &taskboard.CreatedBy,
		&tasks, &users, &admins, &taskboard.CreatedAt)
	if err != nil {
		return Taskboard{}, err
	}
	if err := json.Unmarshal(tasks, &taskboard.TaskIDs); err != nil {
		return Taskboard{}, fmt.Errorf("unmarshal task ids: %w", err)
	}
	if err := json.Unmarshal(users, &taskboard.UserIDs); err != nil {
		return Taskboard{}, fmt.Errorf("unmarshal user ids: %w", err)
	}
	if err := json.Unmarshal(admins, &taskboard.AdminIDs); err != nil {
		return Taskboard{}, fmt.Errorf("unmarshal admin ids: %w", err)
	}
	return taskboard, nil
}

// ── tasks ──

const taskColumns = `id, title, description, status, taskboard_id, created_by, assignee_ids, comment_ids, created_at`

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) error {
	assignees, comments, err := marshalTaskLists(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, taskboard_id, created_by, assignee_ids, comment_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, task.ID, task.Title, task.Description, task.Status, task.TaskboardID, task.CreatedBy, assignees, comments, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveTask(ctx context.Context, task Task) error {
	assignees, comments, err := marshalTaskLists(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET title=$2, description=$3, status=$4, assignee_ids=$5, comment_ids=$6 WHERE id=$1
	`, task.ID, task.Title, task.Description, task.Status, assignees, comments)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id)
	return scanTask(row)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func marshalTaskLists(task Task) (assignees, comments []byte, err error) {
	if assignees, err = json.Marshal(idList(task.AssigneeIDs)); err != nil {
		return nil, nil, fmt.Errorf("marshal assignee ids: %w", err)
	}
	if comments, err = json.Marshal(idList(task.CommentIDs)); err != nil {
		return nil, nil, fmt.Errorf("marshal comment ids: %w", err)
	}
	return assignees, comments, nil
}

func scanTask(row rowScanner) (Task, error) {
	var task Task
	var assignees, comments []byte
	err := row.Scan(&task.ID, &task.Title, &task.Description, &task.Status, &task.TaskboardID,
		&task.CreatedBy, &assignees, &comments, &task.CreatedAt)
	if err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal(assignees, &task.AssigneeIDs); err != nil {
		return Task{}, fmt.Errorf("unmarshal assignee ids: %w", err)
	}
	if err := json.Unmarshal(comments, &task.CommentIDs); err != nil {
		return Task{}, fmt.Errorf("unmarshal comment ids: %w", err)
	}
	return task, nil
}

// ── comments ──

const commentColumns = `id, text, comment_type, task_id, created_by, resolved_at, resolved_by, replies, created_at`

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) error {
	replies, err := json.Marshal(replyList(comment.Replies))
	if err != nil {
		return fmt.Errorf("marshal replies: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comments (id, text, comment_type, task_id, created_by, resolved_at, resolved_by, replies, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, comment.ID, comment.Text, comment.Type, comment.TaskID, comment.CreatedBy,
		comment.ResolvedAt, nullableID(comment.ResolvedBy), replies, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveComment(ctx context.Context, comment Comment) error {
	replies, err := json.Marshal(replyList(comment.Replies))
	if err != nil {
		return fmt.Errorf("marshal replies: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE comments SET text=$2, resolved_at=$3, resolved_by=$4, replies=$5 WHERE id=$1
	`, comment.ID, comment.Text, comment.ResolvedAt, nullableID(comment.ResolvedBy), replies)
	if err != nil {
		return fmt.Errorf("save comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindComment(ctx context.Context, id string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, id)
	return scanComment(row)
}

func (s *PostgresStore) ListCommentsByTask(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE task_id=$1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// DeleteCommentsByTask is the filter delete used by the task-delete cascade.
func (s *PostgresStore) DeleteCommentsByTask(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE task_id=$1`, taskID); err != nil {
		return fmt.Errorf("delete comments by task: %w", err)
	}
	return nil
}

func scanComment(row rowScanner) (Comment, error) {
	var comment Comment
	var resolvedBy sql.NullString
	var replies []byte
	err := row.Scan(&comment.ID, &comment.Text, &comment.Type, &comment.TaskID, &comment.CreatedBy,
		&comment.ResolvedAt, &resolvedBy, &replies, &comment.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	comment.ResolvedBy = resolvedBy.String
	if err := json.Unmarshal(replies, &comment.Replies); err != nil {
		return Comment{}, fmt.Errorf("unmarshal replies: %w", err)
	}
	return comment, nil
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

// idList keeps empty lists as [] rather than null in JSONB.
func idList(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func replyList(replies []Reply) []Reply {
	if replies == nil {
		return []Reply{}
	}
	return replies
}
