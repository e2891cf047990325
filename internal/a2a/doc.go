// Package a2a is the client side of an agent speaking JSON-RPC message/send
// over HTTP.
//
// A Client wraps one agent endpoint. Send never returns an error: every
// outcome, including a failed delivery, resolves to a Reply whose text is
// safe to show to a user.
//
// # Retry Policy
//
// Up to MaxRetries attempts are made. Transport failures (connection
// refused, timeouts) wait BaseDelay*2^(n-1) before attempt n+1. A result
// that is a task in state "failed" waits FailedTaskDelay*2^(n-1) instead;
// on the final attempt its raw result is returned with Failed set.
// Non-200 responses, JSON-RPC error objects and undecodable bodies end the
// call immediately.
//
// # Reply Text
//
// Text is taken from the first result shape present, in order: artifacts
// (a list or a single object), message parts, a direct text field. When none
// yields text the raw result JSON is returned. Replies longer than
// MaxReplyChars are cut and marked as truncated.
package a2a
