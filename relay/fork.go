package relay

// Fork resolution: the chain with the greatest height wins, and a chain of
// equal height never displaces the current best chain.

// reorgIfLonger switches the best chain to chain when its tip is strictly
// higher than the current best height. It returns the reorganization, if any.
func (s *chainStore) reorgIfLonger(chain ChainID) (*Reorganized, bool) {
	f, ok := s.forks[chain]
	if !ok || chain == s.best.Chain || f.TipHeight <= s.best.Height {
		return nil, false
	}

	tip, ok := s.entries[entryKey{chain, f.TipHeight}]
	if !ok {
		return nil, false
	}

	// Walk the new chain down to the first entry already on the best chain.
	var path []*ChainEntry
	e := tip
	for e != nil && !e.Active {
		path = append(path, e)
		e, _ = s.parentOf(e)
	}

	forkHeight := path[len(path)-1].Height - 1
	if e != nil {
		forkHeight = e.Height
	}

	old := s.best
	for h := forkHeight + 1; h <= old.Height; h++ {
		if m, ok := s.main[h]; ok {
			m.Active = false
			delete(s.main, h)
		}
	}
	for _, p := range path {
		p.Active = true
		s.main[p.Height] = p
	}
	s.best = BestChain{Chain: chain, Height: tip.Height, Hash: tip.Hash}

	return &Reorganized{
		OldTip:     old.Hash,
		OldHeight:  old.Height,
		NewTip:     tip.Hash,
		NewHeight:  tip.Height,
		ForkHeight: forkHeight,
	}, true
}

// divergence returns the height of the highest best-chain ancestor of the
// chain's tip, or false when the branch no longer connects to it.
func (s *chainStore) divergence(f *Fork) (uint32, bool) {
	e, ok := s.entries[entryKey{f.ID, f.TipHeight}]
	if !ok {
		return 0, false
	}
	return s.branchPoint(e)
}

// branchPoint returns the height of e's highest best-chain ancestor, e
// itself included.
func (s *chainStore) branchPoint(e *ChainEntry) (uint32, bool) {
	ok := true
	for ok && !e.Active {
		e, ok = s.parentOf(e)
	}
	if !ok {
		return 0, false
	}
	return e.Height, true
}

// pruneForks drops side branches that diverged from the best chain below
// floor. Entries of a pruned chain that are still on the best chain stay;
// the chain's tip is moved down to them. It returns the pruned chain IDs.
func (s *chainStore) pruneForks(floor uint32) []ChainID {
	var doomed []*Fork
	for id := ChainID(0); id < s.nextID; id++ {
		f, ok := s.forks[id]
		if !ok || id == s.best.Chain {
			continue
		}
		tip, ok := s.entries[entryKey{f.ID, f.TipHeight}]
		if ok && tip.Active {
			continue
		}
		if at, ok := s.divergence(f); !ok || at < floor {
			doomed = append(doomed, f)
		}
	}

	pruned := make([]ChainID, 0, len(doomed))
	for _, f := range doomed {
		h := f.TipHeight
		for {
			e, ok := s.entries[entryKey{f.ID, h}]
			if !ok || e.Active {
				break
			}
			s.remove(e)
			if h == f.StartHeight {
				break
			}
			h--
		}

		if e, ok := s.entries[entryKey{f.ID, h}]; ok && e.Active {
			f.TipHeight, f.TipHash = e.Height, e.Hash
		} else {
			delete(s.forks, f.ID)
		}
		pruned = append(pruned, f.ID)
	}
	return pruned
}

// pruneMain drops best-chain entries below floor. Chains left without
// entries are forgotten, except the best chain.
func (s *chainStore) pruneMain(floor uint32) int {
	n := 0
	for h := floor; h > 0; h-- {
		e, ok := s.main[h-1]
		if !ok {
			break
		}
		s.remove(e)
		n++
	}
	if n == 0 {
		return 0
	}

	for id, f := range s.forks {
		if id == s.best.Chain {
			continue
		}
		if _, ok := s.entries[entryKey{id, f.TipHeight}]; !ok {
			delete(s.forks, id)
		}
	}
	return n
}
