package chunker

import (
	"sort"

	"github.com/raaihank/pii-vault/internal/detector"
)

// Deduper merges entity detections across overlapping chunks. Chunks must
// be added in offset order. An entity from a later chunk is discarded when
// its span overlaps one already accepted from an earlier chunk, so an
// entity inside the overlap region is kept exactly once: from the first
// chunk in which its start offset appears.
type Deduper struct {
	accepted []detector.Entity
	lastEnd  int
}

// NewDeduper returns an empty merger.
func NewDeduper() *Deduper {
	return &Deduper{}
}

// Add translates chunk-local entity offsets into global text offsets and
// accepts the non-overlapping ones.
func (d *Deduper) Add(chunk Chunk, entities []detector.Entity) {
	global := make([]detector.Entity, 0, len(entities))
	for _, e := range entities {
		e.Start += chunk.Start
		e.End += chunk.Start
		global = append(global, e)
	}
	sort.Slice(global, func(i, j int) bool { return global[i].Start < global[j].Start })

	for _, e := range global {
		if e.Start < d.lastEnd {
			continue
		}
		d.accepted = append(d.accepted, e)
		d.lastEnd = e.End
	}
}

// Entities returns all accepted detections sorted by start offset.
func (d *Deduper) Entities() []detector.Entity {
	return d.accepted
}
