package board

import (
	"testing"

	"taskhive/api/internal/store"
)

func TestCheckAdminRole(t *testing.T) {
	if err := CheckAdminRole("admin"); err != nil {
		t.Fatalf("CheckAdminRole(admin) error = %v", err)
	}
	if err := CheckAdminRole("user"); err != ErrRoleDenied {
		t.Fatalf("expected ErrRoleDenied, got %v", err)
	}
	if err := CheckAdminRole("superuser"); err != ErrRoleDenied {
		t.Fatalf("unknown role must normalize to user, got %v", err)
	}
}

func TestCheckTaskInTaskboard(t *testing.T) {
	taskboard := store.Taskboard{ID: "tb-1", TaskIDs: []string{"task-1", "task-2"}}

	if err := CheckTaskInTaskboard(taskboard, "task-2"); err != nil {
		t.Fatalf("expected task-2 to be reachable, got %v", err)
	}
	// A task that exists globally but is not listed by this board is still
	// reported as not found.
	if err := CheckTaskInTaskboard(taskboard, "task-3"); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCheckCommentInTask(t *testing.T) {
	task := store.Task{ID: "task-1", CommentIDs: []string{"c-1"}}
	if err := CheckCommentInTask(task, "c-1"); err != nil {
		t.Fatalf("expected c-1 reachable, got %v", err)
	}
	if err := CheckCommentInTask(task, "c-2"); err != ErrCommentNotFound {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
}

func TestCheckUserInTaskboard(t *testing.T) {
	taskboard := store.Taskboard{ID: "tb-1", UserIDs: []string{"user-1"}}
	if err := CheckUserInTaskboard(taskboard, "user-1"); err != nil {
		t.Fatalf("expected member, got %v", err)
	}
	if err := CheckUserInTaskboard(taskboard, "user-2"); err != ErrUserNotInTaskboard {
		t.Fatalf("expected ErrUserNotInTaskboard, got %v", err)
	}
}

func TestCheckIDsMatch(t *testing.T) {
	if err := CheckIDsMatch("tb-1", " tb-1 "); err != nil {
		t.Fatalf("ids should match after normalization, got %v", err)
	}
	if err := CheckIDsMatch("tb-1", "tb-2"); err != ErrIDsNotMatching {
		t.Fatalf("expected ErrIDsNotMatching, got %v", err)
	}
}

func TestCanModerate(t *testing.T) {
	if !CanModerate("user-1", "user", "user-1") {
		t.Fatal("creator must be allowed")
	}
	if !CanModerate("user-2", "admin", "user-1") {
		t.Fatal("admin must be allowed")
	}
	// Membership alone never grants deletion of someone else's entity.
	if CanModerate("user-2", "user", "user-1") {
		t.Fatal("non-owner non-admin must be rejected")
	}
}

func TestValidID(t *testing.T) {
	for _, id := range []string{"tb_1", "a-b-c", "0123abc"} {
		if !ValidID(id) {
			t.Fatalf("expected %q to be valid", id)
		}
	}
	for _, id := range []string{"", "  ", "a/b", "a b", "a\nb"} {
		if ValidID(id) {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}
