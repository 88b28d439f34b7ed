package board

import "errors"

// One sentinel per violated invariant; checks fail fast with the first one.
var (
	ErrRoleDenied         = errors.New("your role does not allow you to perform this operation")
	ErrTaskboardNotFound  = errors.New("taskboard not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrTaskNotFound       = errors.New("task not found")
	ErrCommentNotFound    = errors.New("comment not found")
	ErrReplyNotFound      = errors.New("reply not found in comment")
	ErrUserNotInTaskboard = errors.New("user not found in taskboard")
	ErrIDsNotMatching     = errors.New("taskboard ids do not match in task and taskboard")
	ErrMalformedID        = errors.New("malformatted id")
)
