// Package dedupe tracks recently delivered envelope IDs so that broker-backed
// event channels can drop redeliveries before they reach bound handlers.
package dedupe
