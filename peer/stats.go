package peer

import "sync/atomic"

// Stats is a snapshot of a session's traffic counters.
type Stats struct {
	FramesSent     uint64
	FramesRecv     uint64
	BytesSent      uint64
	BytesRecv      uint64
	ControlHandled uint64
	BufferDrops    uint64
}

// Snmp holds the live, concurrently-updated counters a Peer maintains,
// modelled on kcp.Snmp's copy-and-reset counter block.
type Snmp struct {
	FramesSent     uint64
	FramesRecv     uint64
	BytesSent      uint64
	BytesRecv      uint64
	ControlHandled uint64
	BufferDrops    uint64
}

// Copy returns a point-in-time Stats snapshot without resetting counters.
func (s *Snmp) Copy() Stats {
	return Stats{
		FramesSent:     atomic.LoadUint64(&s.FramesSent),
		FramesRecv:     atomic.LoadUint64(&s.FramesRecv),
		BytesSent:      atomic.LoadUint64(&s.BytesSent),
		BytesRecv:      atomic.LoadUint64(&s.BytesRecv),
		ControlHandled: atomic.LoadUint64(&s.ControlHandled),
		BufferDrops:    atomic.LoadUint64(&s.BufferDrops),
	}
}

// Reset zeroes every counter.
func (s *Snmp) Reset() {
	atomic.StoreUint64(&s.FramesSent, 0)
	atomic.StoreUint64(&s.FramesRecv, 0)
	atomic.StoreUint64(&s.BytesSent, 0)
	atomic.StoreUint64(&s.BytesRecv, 0)
	atomic.StoreUint64(&s.ControlHandled, 0)
	atomic.StoreUint64(&s.BufferDrops, 0)
}

func (s *Snmp) incSent(n int) {
	atomic.AddUint64(&s.FramesSent, 1)
	atomic.AddUint64(&s.BytesSent, uint64(n))
}

func (s *Snmp) incRecv(n int) {
	atomic.AddUint64(&s.FramesRecv, 1)
	atomic.AddUint64(&s.BytesRecv, uint64(n))
}

func (s *Snmp) incControl() {
	atomic.AddUint64(&s.ControlHandled, 1)
}

func (s *Snmp) incBufferDrop() {
	atomic.AddUint64(&s.BufferDrops, 1)
}
