// Package trainer drives data parallel fine-tuning: it trains epochs over a
// rank's shard, keeps replicas in step across the group, evaluates held-out
// accuracy and persists the final weights.
package trainer
