package models

// TimeoutMarker is written to stderr when a process is stopped for running too long.
const TimeoutMarker = "Process timed out"

// CommandResult is the outcome of one finished external command.
type CommandResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// ScriptResult is a CommandResult produced by the script runner.
type ScriptResult struct {
	CommandResult
	ProcessID string `json:"processId,omitempty"`
}

// FailedResult builds the result used for spawn failures and timeouts.
func FailedResult(stdout, stderr string) CommandResult {
	return CommandResult{
		Success:  false,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: 1,
	}
}
