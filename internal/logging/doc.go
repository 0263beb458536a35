// Package logging provides structured logging for autoref.
//
// It wraps log/slog to write JSON lines with persistent context attributes,
// so every line emitted while a task is in flight carries its index and the
// component that produced it.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(logging.Options{Dir: "logs", Level: "info"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	taskLog := logger.WithComponent("pipeline").WithTask(3)
//	taskLog.Info("registered account", "email", email)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"registered account","component":"pipeline","task":3,"email":"..."}
//
// # Log Rotation
//
// The pipeline is meant to run for days, so file logging goes through a
// [RotatingWriter]. Rotated files are named autoref.log.1 (newest) through
// autoref.log.N and are gzipped when RotationConfig.Compress is set.
//
// # Testing
//
// Use [NopLogger] to discard output, or [New] with a handler over a buffer to
// assert on what was logged.
package logging
