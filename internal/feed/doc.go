// Package feed implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains at most one live subscribed WebSocket connection to the
//     Coinbase Advanced Trade feed
//   - Retries the initial connect with exponential backoff, failing
//     fatally once the attempt budget is exhausted
//   - Recovers from mid-session drops with a fixed reconnect delay,
//     looping until shutdown is signaled
//   - Parses candle frames and dispatches records synchronously, in
//     wire arrival order
package feed
