// Package throttle caps how fast and how many jobs of one name run in the
// in-process worker pool.
//
// A [Limit] applies to every job with its name:
//
//	throttle.Limit{
//	    JobName:        "send_email",
//	    MaxConcurrency: 5,  // at most 5 running at once
//	    RateLimit:      10, // at most 10 started per second
//	    RateBurst:      20,
//	}
//
// A session limit applies separately to each conversation session of a
// job, keyed by the job's session_id kwarg, so one busy session cannot
// starve the others:
//
//	m.SetSessionLimit(throttle.Limit{JobName: "process_conversation_task", MaxConcurrency: 1})
//
// [Manager.Acquire] never blocks. A job that is refused is deferred by the
// pool and offered again shortly; deferral does not count as a retry.
package throttle
