package dlq

// Persisted key layout under the namespace prefix.
type keys struct {
	ns string
}

func (k keys) record(jobID string) string { return k.ns + ":dlq:" + jobID }
func (k keys) claim(jobID string) string  { return k.ns + ":dlq:" + jobID + ":claim" }
func (k keys) index() string              { return k.ns + ":dlq:index" }
func (k keys) indexLock() string          { return k.ns + ":dlq:index:lock" }
