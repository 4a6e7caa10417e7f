// Package broadcast delivers one message to many Telegram users.
//
// A full dispatch (Engine.DispatchToAll) walks the recipient list strictly in
// order, one send at a time. Telegram enforces a global rate ceiling, so
// sends are never issued in parallel; instead every attempt is followed by a
// short pacing delay, and a flood-wait answer from the platform suspends the
// run for the mandated duration before exactly one retry.
//
// Outcomes
//
// Each recipient ends in exactly one of success or failed. Failed is further
// split into blocked (the user blocked the bot) and deleted (the account no
// longer exists); anything unrecognised is also kept as a short diagnostic
// in Stats.Errors, which is capped.
//
// Runs
//
// Full dispatches are registered in a Registry under an id derived from the
// operator and the start time, so progress can be queried while the run is
// in flight. Completed runs are evicted by age and by count. The reduced
// variants (DispatchToRecipients, DispatchToActiveRecipients) are not
// registered and do not report progress.
package broadcast
