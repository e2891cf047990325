// Package lifecycle keeps at most one in-flight agent request per owner.
//
// Submitting new work for an owner cancels the previous request. A request
// that finishes after it was superseded removes nothing (completion is
// checked against the handle) and, because delivery is gated by Claim,
// never reaches the user.
package lifecycle
