package service

import (
	"context"
	"time"

	"adbdesk/models"

	"github.com/rs/zerolog/log"
)

// CommandRunner executes adb command strings. *adb.Client implements it.
type CommandRunner interface {
	Execute(ctx context.Context, deviceID, command string) models.CommandResult
}

// HistoryRecorder persists executed commands. *store.HistoryStore implements it.
type HistoryRecorder interface {
	Record(ctx context.Context, entry models.HistoryEntry) error
}

// CommandService runs commands through the executor and keeps a history of them.
type CommandService struct {
	runner  CommandRunner
	history HistoryRecorder
}

// NewCommandService creates a command service. history may be nil.
func NewCommandService(runner CommandRunner, history HistoryRecorder) *CommandService {
	return &CommandService{runner: runner, history: history}
}

// Execute runs command against deviceID (empty means adb's default device).
func (s *CommandService) Execute(ctx context.Context, deviceID, command string) models.CommandResult {
	started := time.Now()
	result := s.runner.Execute(ctx, deviceID, command)

	log.Debug().
		Str("module", "command").
		Str("device", deviceID).
		Str("command", command).
		Int("exit_code", result.ExitCode).
		Dur("elapsed", time.Since(started)).
		Msg("command finished")

	recordHistory(ctx, s.history, deviceID, command, started, result)
	return result
}

func recordHistory(ctx context.Context, history HistoryRecorder, deviceID, command string, started time.Time, result models.CommandResult) {
	if history == nil {
		return
	}
	entry := models.HistoryEntry{
		DeviceID:   deviceID,
		Command:    command,
		Success:    result.Success,
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err := history.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn().Str("module", "command").Err(err).Msg("record command history failed")
	}
}
