package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/core/store"
	apperrors "github.com/sheetkeeper/sheetkeeper/internal/errors"
)

// ExitWithCode logs err with the foundry metadata of exitCode and exits.
// A nil logger writes to stderr instead.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		writeFatal(msg, err)
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_description", info.Description),
		zap.String("exit_category", info.Category),
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
			zap.String("trace_id", envelope.TraceID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if originalErr, ok := envelope.Original.(error); ok {
			err = originalErr
		}
	}

	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)
	os.Exit(info.Code)
}

// ExitWithCodeStderr is ExitWithCode for failures before the logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	ExitWithCode(nil, exitCode, msg, err)
}

// ExitCodeFor maps a failed command's error to a semantic exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	if stderrors.Is(err, store.ErrNotInitialized) {
		return foundry.ExitExternalServiceUnavailable
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		switch envelope.Code {
		case apperrors.CodeConfigInvalid:
			return foundry.ExitConfigInvalid
		case apperrors.CodeDatabase, apperrors.CodeServiceUnavailable:
			return foundry.ExitExternalServiceUnavailable
		}
	}
	return foundry.ExitFailure
}

func writeFatal(msg string, err error) {
	var envelope *errors.ErrorEnvelope
	switch {
	case err == nil:
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	case stderrors.As(err, &envelope):
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %v (correlation: %s, trace: %s)\n",
			msg, envelope.Code, envelope.Message, envelope.CorrelationID, envelope.TraceID)
		if originalErr, ok := envelope.Original.(error); ok {
			fmt.Fprintf(os.Stderr, "Underlying error: %v\n", originalErr)
		}
	default:
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	}
}
