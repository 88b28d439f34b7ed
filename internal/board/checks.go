// Package board holds the relationship checkers and authorization rules for
// the taskboard hierarchy. Everything here is a pure function over already
// loaded entities; storage never enters this package. Checks for nested paths
// run outer-to-inner: task-in-taskboard before comment-in-task before any
// reply lookup.
package board

import (
	"strings"

	"taskhive/api/internal/store"
)

// CheckAdminRole gates admin-only operations (taskboard creation, task
// deletion, comment resolution, membership changes).
func CheckAdminRole(role string) error {
	if !IsAdmin(role) {
		return ErrRoleDenied
	}
	return nil
}

// CheckIDsMatch compares two ids after canonical normalization. Used for the
// task's recorded taskboard id against the taskboard id in the request path.
func CheckIDsMatch(a, b string) error {
	if CanonicalID(a) != CanonicalID(b) {
		return ErrIDsNotMatching
	}
	return nil
}

// CheckTaskInTaskboard verifies the taskboard's forward list contains the
// task. A globally existing task that the board does not list is reported as
// not found, so a forged id in a URL cannot reach outside its hierarchy.
func CheckTaskInTaskboard(taskboard store.Taskboard, taskID string) error {
	if !containsID(taskboard.TaskIDs, taskID) {
		return ErrTaskNotFound
	}
	return nil
}

func CheckCommentInTask(task store.Task, commentID string) error {
	if !containsID(task.CommentIDs, commentID) {
		return ErrCommentNotFound
	}
	return nil
}

func CheckUserInTaskboard(taskboard store.Taskboard, userID string) error {
	if !containsID(taskboard.UserIDs, userID) {
		return ErrUserNotInTaskboard
	}
	return nil
}

// CanModerate is the owner-or-admin rule for comment and reply deletion.
// A non-owner non-admin is rejected with an authentication-style denial,
// distinct from the RoleError used for admin-only operations.
func CanModerate(subjectID, role, creatorID string) bool {
	if CanonicalID(subjectID) == CanonicalID(creatorID) {
		return true
	}
	return IsAdmin(role)
}

// CanonicalID normalizes an identifier to its comparable form.
func CanonicalID(id string) string {
	return strings.TrimSpace(id)
}

// ValidID rejects syntactically malformed identifiers before any load.
func ValidID(id string) bool {
	id = CanonicalID(id)
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func containsID(ids []string, id string) bool {
	want := CanonicalID(id)
	for _, candidate := range ids {
		if CanonicalID(candidate) == want {
			return true
		}
	}
	return false
}
