package p2p

import "sync"

// PeerSet is a rolling list of peers. It is used to spread requests over
// all the peers a reactor is connected to.
type PeerSet struct {
	mtx    sync.Mutex
	peers  []NodeID
	cursor int
}

func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make([]NodeID, 0)}
}

func (s *PeerSet) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.peers)
}

// Append adds a peer unless it is already present. It returns false if the
// peer was present.
func (s *PeerSet) Append(peer NodeID) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, p := range s.peers {
		if p == peer {
			return false
		}
	}
	s.peers = append(s.peers, peer)
	return true
}

func (s *PeerSet) Remove(peer NodeID) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for i, p := range s.peers {
		if p == peer {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			if s.cursor > i {
				s.cursor--
			}
			return
		}
	}
}

func (s *PeerSet) All() []NodeID {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]NodeID(nil), s.peers...)
}

func (s *PeerSet) Contains(id NodeID) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, p := range s.peers {
		if id == p {
			return true
		}
	}

	return false
}

// Next returns the next peer in rotation that is not excluded. If every
// peer is excluded the next peer in rotation is returned anyway, so a
// request can still be served when only excluded peers are left. ok is
// false only if the set is empty.
func (s *PeerSet) Next(exclude ...NodeID) (peer NodeID, ok bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if len(s.peers) == 0 {
		return "", false
	}

	for i := 0; i < len(s.peers); i++ {
		idx := (s.cursor + i) % len(s.peers)
		if !isExcluded(s.peers[idx], exclude) {
			s.cursor = (idx + 1) % len(s.peers)
			return s.peers[idx], true
		}
	}

	idx := s.cursor % len(s.peers)
	s.cursor = (idx + 1) % len(s.peers)
	return s.peers[idx], true
}

func isExcluded(peer NodeID, exclude []NodeID) bool {
	for _, e := range exclude {
		if e == peer {
			return true
		}
	}
	return false
}
