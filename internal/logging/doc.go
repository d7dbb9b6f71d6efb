// Package logging builds the recalld zap logger.
//
// It adds to plain zap:
//   - context fields (trace and span ids, request id, channel id)
//   - redaction of sensitive keys and value patterns
//   - level-aware sampling where errors are never sampled
//   - a TestLogger over zaptest/observer
//
// Components take a *zap.Logger; Logger.Underlying returns it.
//
//	logger, err := logging.NewLogger(cfg, os.Stderr)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//	logger.Info(ctx, "serving", zap.Int("port", 9090))
package logging
