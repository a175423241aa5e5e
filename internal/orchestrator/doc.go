// Package orchestrator runs the fixed support pipeline for one ticket.
//
// # Topology
//
//	normalize -> {classify || knowledge, memory} -> reasoning -> synthesize [-> store resolution]
//
// Normalize, classify and synthesize are required: their failure aborts
// the ticket with a *StageError and escalates it. Knowledge retrieval,
// memory recall, reasoning and resolution storage are auxiliary: a failure
// is recorded as a note and the pipeline continues without that input.
//
// The middle step is a barrier. Its members are dispatched concurrently
// and the sequencer waits for every one of them to reach a terminal
// outcome before it looks at any result.
//
// # Stage inputs
//
// Each stage receives the accumulated context as labelled text blocks:
//
//	### Ticket
//	Title: Cannot log in
//	Priority: P2
//	...
//
//	### Classification
//	{"incident_type": "Auth", ...}
//
// The draft response is exactly the synthesis output.
//
// # Persistence
//
// Tickets and execution plans are written through the Ledger interface.
// Task rows are written by the dispatcher's observer; see RecordTasks.
package orchestrator
