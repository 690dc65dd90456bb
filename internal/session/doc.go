// Package session provides the conversation session manager, the only
// component the UI layer talks to.
//
// # Overview
//
// The Manager owns the active thread identity, the local message list, the
// pagination cursor, and the loading/error flags. It coordinates the provider
// gateway, the run poller, the offline queue, and the message cache to
// implement the send/reset/paginate operations.
//
// # Operations
//
//		mgr := session.New(gateway, runPoller, clientStore, offlineQueue, msgCache, opts, logger)
//
//	  - Initialize(ctx): restore or create the active thread
//	  - SendMessage(ctx, text): optimistic append, post, run, poll, re-fetch
//	  - ResetThread(ctx, welcome): abandon the thread and start a new one
//	  - LoadMoreMessages(ctx): backward pagination using the oldest loaded id
//	  - ForceReset(ctx): cancel any live poll loop, then reset
//
// # State
//
// All observable state is read through Snapshot(), which returns a copy.
// The internal message list is kept newest-first, matching the provider's
// retrieval order; display layers render it newest-last.
//
// # Ordering
//
// Sends on a thread are serialized: a second SendMessage while a run is in
// flight is rejected with ErrBusy, so two runs are never live on one thread.
// Queued offline messages replay in FIFO order relative to each other.
package session
