package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"taskhive/api/internal/auth"
	"taskhive/api/internal/authpw"
	"taskhive/api/internal/board"
	"taskhive/api/internal/config"
	"taskhive/api/internal/live"
	"taskhive/api/internal/store"
	"taskhive/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Role         string
	ExpiresAt    time.Time
}

type CreateTaskboardInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type CreateTaskInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Users       []string `json:"users"`
}

type UpdateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type CreateCommentInput struct {
	Text        string `json:"text"`
	CommentType string `json:"commentType"`
}

// TaskView is a task with its comment tree eagerly resolved. Replies are
// embedded in their comments already.
type TaskView struct {
	store.Task
	Comments []store.Comment `json:"commentTree"`
}

type TaskboardView struct {
	store.Taskboard
	Tasks []TaskView `json:"taskTree"`
}

type dataStore interface {
	FindUserByID(ctx context.Context, id string) (store.User, error)
	FindUserByUsername(ctx context.Context, username string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	SaveUser(ctx context.Context, user store.User) error

	FindTaskboard(ctx context.Context, id string) (store.Taskboard, error)
	ListTaskboards(ctx context.Context) ([]store.Taskboard, error)
	CreateTaskboard(ctx context.Context, taskboard store.Taskboard) error
	SaveTaskboard(ctx context.Context, taskboard store.Taskboard) error

	FindTask(ctx context.Context, id string) (store.Task, error)
	CreateTask(ctx context.Context, task store.Task) error
	SaveTask(ctx context.Context, task store.Task) error
	DeleteTask(ctx context.Context, id string) error

	FindComment(ctx context.Context, id string) (store.Comment, error)
	ListCommentsByTask(ctx context.Context, taskID string) ([]store.Comment, error)
	CreateComment(ctx context.Context, comment store.Comment) error
	SaveComment(ctx context.Context, comment store.Comment) error
	DeleteComment(ctx context.Context, id string) error
	DeleteCommentsByTask(ctx context.Context, taskID string) error

	Ping(ctx context.Context) error
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (store.User, error)
	Revoke(ctx context.Context, tokenHash string) error
}

// Service holds the mutation orchestrators. Every mutating operation runs the
// same fixed sequence: verified claims in, entity loads outermost-to-innermost,
// relationship checks in the same order, authorization rules, then the
// mutation with its cascading parent update, then a fire-and-forget notify.
type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	notifier live.Notifier
	accounts *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, notifier live.Notifier) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		notifier: notifier,
		accounts: authpw.NewService(dataStore),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── accounts & sessions (pre-authentication, no claims consumed) ──

func (s *Service) Register(ctx context.Context, username, password string) (store.User, error) {
	user, err := s.accounts.Register(ctx, username, password)
	if errors.Is(err, authpw.ErrUsernameTaken) {
		return store.User{}, domainError(http.StatusConflict, "USERNAME_TAKEN", "Username already taken", nil)
	}
	if err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.accounts.Login(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	user, err := s.sessions.Lookup(ctx, auth.HashToken(refreshToken))
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.Revoke(ctx, auth.HashToken(refreshToken)); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Username, user.Role, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	refreshToken := util.NewID("")
	if s.sessions != nil {
		if err := s.sessions.Save(ctx, auth.HashToken(refreshToken), user, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
			return Session{}, fmt.Errorf("save refresh session: %w", err)
		}
	}
	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		ExpiresAt:    expiresAt,
	}, nil
}

// VerifyClaims validates the bearer credential. Called exactly once per
// authenticated request, before any entity load.
func (s *Service) VerifyClaims(raw string) (auth.Claims, error) {
	return auth.ParseToken([]byte(s.cfg.JWTSecret), raw)
}

// ── entity loaders ──
//
// Storage absence (sql.ErrNoRows) becomes the typed not-found error named
// after the entity; identifiers are shape-checked before touching storage.

func (s *Service) loadUser(ctx context.Context, id string) (store.User, error) {
	if !board.ValidID(id) {
		return store.User{}, board.ErrMalformedID
	}
	user, err := s.store.FindUserByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, board.ErrUserNotFound
	}
	return user, err
}

func (s *Service) loadTaskboard(ctx context.Context, id string) (store.Taskboard, error) {
	if !board.ValidID(id) {
		return store.Taskboard{}, board.ErrMalformedID
	}
	taskboard, err := s.store.FindTaskboard(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Taskboard{}, board.ErrTaskboardNotFound
	}
	return taskboard, err
}

func (s *Service) loadTask(ctx context.Context, id string) (store.Task, error) {
	if !board.ValidID(id) {
		return store.Task{}, board.ErrMalformedID
	}
	task, err := s.store.FindTask(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, board.ErrTaskNotFound
	}
	return task, err
}

func (s *Service) loadComment(ctx context.Context, id string) (store.Comment, error) {
	if !board.ValidID(id) {
		return store.Comment{}, board.ErrMalformedID
	}
	comment, err := s.store.FindComment(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Comment{}, board.ErrCommentNotFound
	}
	return comment, err
}

// ── reads ──

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) ListTaskboards(ctx context.Context) ([]store.Taskboard, error) {
	return s.store.ListTaskboards(ctx)
}

// GetTaskboard resolves the full task→comment→reply tree for display.
func (s *Service) GetTaskboard(ctx context.Context, claims auth.Claims, taskboardID string) (TaskboardView, error) {
	taskboard, err := s.loadTaskboard(ctx, taskboardID)
	if err != nil {
		return TaskboardView{}, err
	}
	if err := board.CheckUserInTaskboard(taskboard, claims.Subject); err != nil {
		return TaskboardView{}, err
	}

	view := TaskboardView{Taskboard: taskboard, Tasks: []TaskView{}}
	for _, taskID := range taskboard.TaskIDs {
		task, err := s.loadTask(ctx, taskID)
		if err != nil {
			return TaskboardView{}, err
		}
		comments, err := s.store.ListCommentsByTask(ctx, task.ID)
		if err != nil {
			return TaskboardView{}, err
		}
		view.Tasks = append(view.Tasks, TaskView{Task: task, Comments: comments})
	}
	return view, nil
}

func (s *Service) GetTask(ctx context.Context, claims auth.Claims, taskboardID, taskID string) (TaskView, error) {
	taskboard, err := s.loadTaskboard(ctx, taskboardID)
	if err != nil {
		return TaskView{}, err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return TaskView{}, err
	}
	if err := board.CheckTaskInTaskboard(taskboard, taskID); err != nil {
		return TaskView{}, err
	}
	comments, err := s.store.ListCommentsByTask(ctx, task.ID)
	if err != nil {
		return TaskView{}, err
	}
	return TaskView{Task: task, Comments: comments}, nil
}

// ── taskboards & membership ──

// CreateTaskboard is admin-only; the creator joins both the member and admin
// sets so that creator ∈ admins ⊆ members holds from the start.
func (s *Service) CreateTaskboard(ctx context.Context, claims auth.Claims, input CreateTaskboardInput) (store.Taskboard, error) {
	if input.Name == "" {
		return store.Taskboard{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Field name required", nil)
	}

	creator, err := s.loadUser(ctx, claims.Subject)
	if err != nil {
		return store.Taskboard{}, err
	}
	if err := board.CheckAdminRole(creator.Role); err != nil {
		return store.Taskboard{}, err
	}

	taskboard := store.Taskboard{
		ID:          util.NewID("tb"),
		Name:        input.Name,
		Description: input.Description,
		CreatedBy:   creator.ID,
		TaskIDs:     []string{},
		UserIDs:     []string{creator.ID},
		AdminIDs:    []string{creator.ID},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateTaskboard(ctx, taskboard); err != nil {
		return store.Taskboard{}, err
	}

	creator.TaskboardIDs = append(creator.TaskboardIDs, taskboard.ID)
	if err := s.store.SaveUser(ctx, creator); err != nil {
		return store.Taskboard{}, err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "taskboard.created", taskboard)
	return taskboard, nil
}

// AddTaskboardMember requires the actor to be an admin member of the board.
// The membership back-reference on the user is kept consistent with the
// board's member list.
func (s *Service) AddTaskboardMember(ctx context.Context, claims auth.Claims, taskboardID, userID string) (store.Taskboard, error) {
	taskboard, err := s.loadTaskboard(ctx, taskboardID)
	if err != nil {
		return store.Taskboard{}, err
	}
	target, err := s.loadUser(ctx, userID)
	if err != nil {
		return store.Taskboard{}, err
	}
	if err := board.CheckUserInTaskboard(taskboard, claims.Subject); err != nil {
		return store.Taskboard{}, err
	}
	if err := board.CheckAdminRole(claims.Role); err != nil {
		return store.Taskboard{}, err
	}

	if board.CheckUserInTaskboard(taskboard, target.ID) == nil {
		return taskboard, nil
	}

	taskboard.UserIDs = append(taskboard.UserIDs, target.ID)
	if err := s.store.SaveTaskboard(ctx, taskboard); err != nil {
		return store.Taskboard{}, err
	}
	target.TaskboardIDs = append(target.TaskboardIDs, taskboard.ID)
	if err := s.store.SaveUser(ctx, target); err != nil {
		return store.Taskboard{}, err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "taskboard.updated", taskboard)
	return taskboard, nil
}

// RemoveTaskboardMember also strips admin standing so admins ⊆ members holds.
func (s *Service) RemoveTaskboardMember(ctx context.Context, claims auth.Claims, taskboardID, userID string) (store.Taskboard, error) {
	taskboard, err := s.loadTaskboard(ctx, taskboardID)
	if err != nil {
		return store.Taskboard{}, err
	}
	target, err := s.loadUser(ctx, userID)
	if err != nil {
		return store.Taskboard{}, err
	}
	if err := board.CheckUserInTaskboard(taskboard, claims.Subject); err != nil {
		return store.Taskboard{}, err
	}
	if err := board.CheckAdminRole(claims.Role); err != nil {
		return store.Taskboard{}, err
	}

	taskboard.UserIDs = withoutID(taskboard.UserIDs, target.ID)
	taskboard.AdminIDs = withoutID(taskboard.AdminIDs, target.ID)
	if err := s.store.SaveTaskboard(ctx, taskboard); err != nil {
		return store.Taskboard{}, err
	}
	target.TaskboardIDs = withoutID(target.TaskboardIDs, taskboard.ID)
	if err := s.store.SaveUser(ctx, target); err != nil {
		return store.Taskboard{}, err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "taskboard.updated", taskboard)
	return taskboard, nil
}

// ── tasks ──

func (s *Service) CreateTask(ctx context.Context, claims auth.Claims, taskboardID string, input CreateTaskInput) (store.Taskboard, error) {
	if input.Title == "" || input.Description == "" || input.Status == "" {
		return store.Taskboard{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Fields title, description, status required", nil)
	}
	if !store.ValidStatus(input.Status) {
		return store.Taskboard{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown task status", nil)
	}

	taskboard, err := s.loadTaskboard(ctx, taskboardID)
	if err != nil {
		return store.Taskboard{}, err
	}
	if err := board.CheckUserInTaskboard(taskboard, claims.Subject); err != nil {
		return store.Taskboard{}, err
	}

	task := store.Task{
		ID:          util.NewID("task"),
		Title:       input.Title,
		Description: input.Description,
		Status:      input.Status,
		TaskboardID: taskboard.ID,
		CreatedBy:   claims.Subject,
		AssigneeIDs: input.Users,
		CommentIDs:  []string{},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return store.Taskboard{}, err
	}

	// Cascading parent update only after the child persisted.
	taskboard.TaskIDs = append(taskboard.TaskIDs, task.ID)
	if err := s.store.SaveTaskboard(ctx, taskboard); err != nil {
		return store.Taskboard{}, err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "task.created", task)
	return taskboard, nil
}

// UpdateTask patches the provided fields after the cross-id consistency
// check; a path taskboard id that disagrees with the task's stored parent
// never applies the update.
func (s *Service) UpdateTask(ctx context.Context, claims auth.Claims, taskboardID, taskID string, input UpdateTaskInput) (store.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := board.CheckIDsMatch(task.TaskboardID, taskboardID); err != nil {
		return store.Task{}, err
	}
	if input.Status != "" && !store.ValidStatus(input.Status) {
		return store.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown task status", nil)
	}

	if input.Title != "" {
		task.Title = input.Title
	}
	if input.Description != "" {
		task.Description = input.Description
	}
	if input.Status != "" {
		task.Status = input.Status
	}
	if err := s.store.SaveTask(ctx, task); err != nil {
		return store.Task{}, err
	}

	s.notify(ctx, live.BoardChannel(task.TaskboardID), "task.updated", task)
	return task, nil
}

// DeleteTask cascades: comments first, then the task, then the parent list.
// There is no cross-entity transaction; a failure after the comment delete
// leaves the comments gone and the task present, which is reported, not
// rolled back.
func (s *Service) DeleteTask(ctx context.Context, claims auth.Claims, taskboardID, taskID string) error {
	taskboard, err := s.loadTaskboard(ctx, taskboardID)
	if err != nil {
		return err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	actor, err := s.loadUser(ctx, claims.Subject)
	if err != nil {
		return err
	}
	if err := board.CheckTaskInTaskboard(taskboard, taskID); err != nil {
		return err
	}
	if err := board.CheckUserInTaskboard(taskboard, claims.Subject); err != nil {
		return err
	}
	if err := board.CheckAdminRole(actor.Role); err != nil {
		return err
	}

	if err := s.store.DeleteCommentsByTask(ctx, task.ID); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, task.ID); err != nil {
		return err
	}
	taskboard.TaskIDs = withoutID(taskboard.TaskIDs, task.ID)
	if err := s.store.SaveTaskboard(ctx, taskboard); err != nil {
		return err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "task.deleted", task)
	return nil
}

// ── comments ──

func (s *Service) CreateComment(ctx context.Context, claims auth.Claims, taskboardID, taskID string, input CreateCommentInput) (store.Task, error) {
	if input.Text == "" {
		return store.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Text field required", nil)
	}
	if !store.ValidCommentType(input.CommentType) {
		return store.Task{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown comment type", nil)
	}

	taskboard, err := s.loadTaskboard(ctx, taskboardID)
	if err != nil {
		return store.Task{}, err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := board.CheckTaskInTaskboard(taskboard, taskID); err != nil {
		return store.Task{}, err
	}
	if err := board.CheckUserInTaskboard(taskboard, claims.Subject); err != nil {
		return store.Task{}, err
	}

	comment := store.Comment{
		ID:        util.NewID("cm"),
		Text:      input.Text,
		Type:      input.CommentType,
		TaskID:    task.ID,
		CreatedBy: claims.Subject,
		Replies:   []store.Reply{},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateComment(ctx, comment); err != nil {
		return store.Task{}, err
	}

	task.CommentIDs = append(task.CommentIDs, comment.ID)
	if err := s.store.SaveTask(ctx, task); err != nil {
		return store.Task{}, err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "comment.created", comment)
	return task, nil
}

func (s *Service) DeleteComment(ctx context.Context, claims auth.Claims, taskboardID, taskID, commentID string) error {
	taskboard, task, comment, err := s.loadCommentChain(ctx, claims, taskboardID, taskID, commentID)
	if err != nil {
		return err
	}

	// Creator or admin; anyone else is denied as unauthenticated-for-this,
	// not as a role error.
	if !board.CanModerate(claims.Subject, claims.Role, comment.CreatedBy) {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}

	if err := s.store.DeleteComment(ctx, comment.ID); err != nil {
		return err
	}
	task.CommentIDs = withoutID(task.CommentIDs, comment.ID)
	if err := s.store.SaveTask(ctx, task); err != nil {
		return err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "comment.deleted", comment)
	return nil
}

// ResolveComment stamps the resolution marker. Re-resolving refreshes the
// timestamp and resolver rather than preserving the original stamp.
func (s *Service) ResolveComment(ctx context.Context, claims auth.Claims, taskboardID, taskID, commentID string) (store.Comment, error) {
	taskboard, _, comment, err := s.loadCommentChain(ctx, claims, taskboardID, taskID, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if err := board.CheckAdminRole(claims.Role); err != nil {
		return store.Comment{}, err
	}

	now := time.Now().UTC()
	comment.ResolvedAt = &now
	comment.ResolvedBy = claims.Subject
	if err := s.store.SaveComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "comment.resolved", comment)
	return comment, nil
}

func (s *Service) UnresolveComment(ctx context.Context, claims auth.Claims, taskboardID, taskID, commentID string) (store.Comment, error) {
	taskboard, _, comment, err := s.loadCommentChain(ctx, claims, taskboardID, taskID, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if err := board.CheckAdminRole(claims.Role); err != nil {
		return store.Comment{}, err
	}

	comment.ResolvedAt = nil
	comment.ResolvedBy = ""
	if err := s.store.SaveComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "comment.unresolved", comment)
	return comment, nil
}

// ── replies ──

func (s *Service) CreateReply(ctx context.Context, claims auth.Claims, taskboardID, taskID, commentID, text string) (store.Comment, error) {
	if text == "" {
		return store.Comment{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Text field required", nil)
	}

	taskboard, _, comment, err := s.loadCommentChain(ctx, claims, taskboardID, taskID, commentID)
	if err != nil {
		return store.Comment{}, err
	}

	comment.Replies = append(comment.Replies, store.Reply{
		ID:        util.NewID("re"),
		Text:      text,
		CreatedBy: claims.Subject,
		CreatedAt: time.Now().UTC(),
	})
	if err := s.store.SaveComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "reply.created", comment)
	return comment, nil
}

func (s *Service) DeleteReply(ctx context.Context, claims auth.Claims, taskboardID, taskID, commentID, replyID string) error {
	taskboard, _, comment, err := s.loadCommentChain(ctx, claims, taskboardID, taskID, commentID)
	if err != nil {
		return err
	}

	var reply *store.Reply
	for i := range comment.Replies {
		if board.CanonicalID(comment.Replies[i].ID) == board.CanonicalID(replyID) {
			reply = &comment.Replies[i]
			break
		}
	}
	if reply == nil {
		return board.ErrReplyNotFound
	}
	if !board.CanModerate(claims.Subject, claims.Role, reply.CreatedBy) {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}

	kept := comment.Replies[:0]
	for _, candidate := range comment.Replies {
		if candidate.ID != reply.ID {
			kept = append(kept, candidate)
		}
	}
	comment.Replies = kept
	if err := s.store.SaveComment(ctx, comment); err != nil {
		return err
	}

	s.notify(ctx, live.BoardChannel(taskboard.ID), "reply.deleted", comment)
	return nil
}

// ── chat ──

type ChatMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	User    string `json:"user"`
}

// PostChatMessage relays a chat envelope to the taskboard's chatroom. The
// hub skips the sender's own connections on delivery.
func (s *Service) PostChatMessage(ctx context.Context, claims auth.Claims, taskboardID, message string) (ChatMessage, error) {
	if message == "" {
		return ChatMessage{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Message field required", nil)
	}
	taskboard, err := s.loadTaskboard(ctx, taskboardID)
	if err != nil {
		return ChatMessage{}, err
	}
	if err := board.CheckUserInTaskboard(taskboard, claims.Subject); err != nil {
		return ChatMessage{}, err
	}

	envelope := ChatMessage{Type: "chat", Message: message, User: claims.Subject}
	s.notify(ctx, live.ChatChannel(taskboard.ID), "chat", envelope)
	return envelope, nil
}

// CanSubscribe gates stream subscriptions on board membership.
func (s *Service) CanSubscribe(ctx context.Context, claims auth.Claims, taskboardID string) error {
	taskboard, err := s.loadTaskboard(ctx, taskboardID)
	if err != nil {
		return err
	}
	return board.CheckUserInTaskboard(taskboard, claims.Subject)
}

// ── helpers ──

// loadCommentChain runs the shared prefix of every comment-level operation:
// loads outermost-to-innermost, then membership, then reachability checks in
// outer-to-inner order.
func (s *Service) loadCommentChain(ctx context.Context, claims auth.Claims, taskboardID, taskID, commentID string) (store.Taskboard, store.Task, store.Comment, error) {
	taskboard, err := s.loadTaskboard(ctx, taskboardID)
	if err != nil {
		return store.Taskboard{}, store.Task{}, store.Comment{}, err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Taskboard{}, store.Task{}, store.Comment{}, err
	}
	comment, err := s.loadComment(ctx, commentID)
	if err != nil {
		return store.Taskboard{}, store.Task{}, store.Comment{}, err
	}
	if err := board.CheckUserInTaskboard(taskboard, claims.Subject); err != nil {
		return store.Taskboard{}, store.Task{}, store.Comment{}, err
	}
	if err := board.CheckTaskInTaskboard(taskboard, taskID); err != nil {
		return store.Taskboard{}, store.Task{}, store.Comment{}, err
	}
	if err := board.CheckCommentInTask(task, commentID); err != nil {
		return store.Taskboard{}, store.Task{}, store.Comment{}, err
	}
	return taskboard, task, comment, nil
}

// notify is fire-and-forget: a failed broadcast is logged and never changes
// the response already computed from the mutation.
func (s *Service) notify(ctx context.Context, channel, eventType string, payload any) {
	if s.notifier == nil {
		return
	}
	data, err := live.MarshalPayload(payload)
	if err != nil {
		log.Printf("notify %s: %v", channel, err)
		return
	}
	envelope := live.Envelope{Type: eventType, Payload: data}
	if chat, ok := payload.(ChatMessage); ok {
		envelope.User = chat.User
	}
	if err := s.notifier.Notify(ctx, channel, envelope); err != nil {
		log.Printf("notify %s: %v", channel, err)
	}
}

func withoutID(ids []string, id string) []string {
	kept := make([]string, 0, len(ids))
	for _, candidate := range ids {
		if board.CanonicalID(candidate) != board.CanonicalID(id) {
			kept = append(kept, candidate)
		}
	}
	return kept
}
