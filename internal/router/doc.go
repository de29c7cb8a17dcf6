// Package router implements the messaging flow between connected clients.
//
// # Message Flow
//
// When a message arrives:
//
//  1. Verify the sender has joined the room and is a session participant
//  2. Persist the message (a message that cannot be stored is never sent)
//  3. Fan out to every joined member with a live connection
//  4. Dispatch enrichment on a detached context
//
// Offline members are skipped; they catch up via fetch_messages. A persist
// failure goes back to the sender alone.
//
// # Delivery Ordering
//
// Enrichment is dispatched only after the fan-out loop completes, and each
// connection drains its queue with a single writer. Together those guarantee
// that a message_enriched follow-up can never reach a recipient before the
// message_delivered it belongs to.
//
// # Session Creation
//
// CreateSession is idempotent per participant pair. A per-pair mutex
// serializes local callers; the store's unique constraint on the normalized
// pair is the authority across instances, with a lost race reinterpreted as
// a lookup of the winner.
package router
