package engine

import "time"

// NoticeKind classifies the non-fatal signals the engine raises for the view
// layer. Nothing the engine reports is fatal; the cache degrades to "possibly
// stale but never corrupted".
type NoticeKind string

const (
	// NoticeReplyRejected means a reply was refused by the backend and its
	// optimistic patch has been rolled back. Resending is a user decision;
	// the engine does not retry mutations.
	NoticeReplyRejected NoticeKind = "reply_rejected"
	// NoticeSnapshotStale means refetching failed even after the retry; the
	// last known snapshot stays visible and is flagged stale.
	NoticeSnapshotStale NoticeKind = "snapshot_stale"
)

// Notice is a user-visible, dismissible signal.
type Notice struct {
	Kind         NoticeKind
	TrackingCode string
	Err          error
	OccurredAt   time.Time
}

// NotifyFunc receives notices. Implementations must be safe for concurrent
// use and must return quickly; they run on engine goroutines.
type NotifyFunc func(Notice)

func notify(fn NotifyFunc, kind NoticeKind, code string, err error) {
	if fn == nil {
		return
	}
	fn(Notice{Kind: kind, TrackingCode: code, Err: err, OccurredAt: time.Now()})
}
