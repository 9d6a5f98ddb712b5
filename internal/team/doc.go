// Package team maintains the shared team directory and per-role
// mailboxes. Both follow the read-whole, mutate, write-whole discipline:
// multiple events can fire for one logical action, and partial-field
// persistence loses updates.
package team
