// Package sweep schedules authd's periodic maintenance with gocron:
//
//   - expired_tokens: daily at 02:00, revoke refresh tokens past expiry
//   - inactive_sessions: daily at 03:00, terminate sessions idle past the TTL
//   - revoked_purge: Sundays at 04:00, delete tokens revoked past retention
//   - token_stats: hourly, publish token and session gauges
//
// With a Redis client configured, runs are guarded by a distributed lock so
// only one replica executes each job.
package sweep
