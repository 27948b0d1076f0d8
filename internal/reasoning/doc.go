// Package reasoning turns a cluster of disaster signals into an actionable
// decision. It defines the Pipeline (five-agent deliberation chain with
// diversity-adjusted confidence), the Cache (TTL memoization keyed by the
// signal set), and the deterministic action policy.
package reasoning
