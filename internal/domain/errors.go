package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound unknown bot id
	ErrNotFound = errors.New("bot not found")
	// ErrAlreadyRunning start on a bot with a live handle
	ErrAlreadyRunning = errors.New("bot already running")
	// ErrNotRunning stop on a bot without a live handle
	ErrNotRunning = errors.New("bot not running")
	// ErrSpawnFailure the OS could not create the process
	ErrSpawnFailure = errors.New("spawn failed")
	// ErrPersistenceFailure a log write failed; logged, never propagated to the worker
	ErrPersistenceFailure = errors.New("log persistence failed")
)

// SpawnError 进程创建失败（registry 保持干净）
type SpawnError struct {
	BotID   int64
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn bot %d (%s): %v", e.BotID, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawnFailure }
