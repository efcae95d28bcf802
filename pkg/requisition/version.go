package requisition

import "time"

// Version is the logical version marker of a cached entity. Seq is the
// server sequence number and At the server timestamp; either may be unset.
type Version struct {
	Seq int64     `json:"seq,omitempty"`
	At  time.Time `json:"at,omitzero"`
}

// IsZero reports whether the marker carries no ordering information.
func (v Version) IsZero() bool {
	return v.Seq == 0 && v.At.IsZero()
}

// Newer reports whether v strictly supersedes cached. Sequence numbers are
// compared when both sides carry one, timestamps otherwise. A marker that
// cannot be compared only wins over an empty cached marker.
func (v Version) Newer(cached Version) bool {
	if cached.IsZero() {
		return true
	}
	if v.Seq != 0 && cached.Seq != 0 {
		return v.Seq > cached.Seq
	}
	if !v.At.IsZero() && !cached.At.IsZero() {
		return v.At.After(cached.At)
	}
	return false
}

// Max returns the marker combining the newest fields of v and o.
func (v Version) Max(o Version) Version {
	out := v
	if o.Seq > out.Seq {
		out.Seq = o.Seq
	}
	if o.At.After(out.At) {
		out.At = o.At
	}
	return out
}
