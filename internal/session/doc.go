// Package session tracks which owners are connected to an agent and holds
// the client each of them uses.
package session
