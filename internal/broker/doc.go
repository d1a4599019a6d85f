// Package broker publishes candle records to a Kafka topic.
//
// Publishing is fire-and-forget: the writer runs in async mode, batches
// internally, and reports delivery failures through a completion
// callback to a log line and an error counter. Ingestion never waits on
// the broker.
package broker
