/*
Package log provides structured logging via zerolog: a global logger
initialized once with log.Init(), plus component-scoped child loggers
for the persistence, committer, subscription, sandbox, search, and
façade packages.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	committerLog := log.WithComponent("committer")
	committerLog.Info().Str("tablet", string(tablet)).Msg("retention sweep complete")

	reqLog := log.WithRequestID(requestID)
	reqLog.Error().Err(err).Msg("mutation failed")

# Fields

JSON output always includes "level", "time", and "message"; component
loggers add "component", "tablet", "request_id", or "session_id" as
appropriate. Never log a document's Value payload at Info level or
above - user data belongs in Debug logs only, if at all.
*/
package log
