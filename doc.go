// Package tickdesk is the market-data core of a brokerage trading console.
//
// The feed package maintains one streaming WebSocket connection to the broker
// feed, replays subscriptions across reconnects, and normalizes the feed's
// inconsistently shaped tick payloads into canonical FeedTick values. The
// chain package resolves option expiry dates and assembles sorted strike
// ladders with at-the-money detection from the broker's snapshot API. The
// session package holds the in-memory console state both of them feed into.
package tickdesk
