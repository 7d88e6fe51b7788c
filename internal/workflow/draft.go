package workflow

import (
	"slices"

	"orbot/internal/types"
)

// Draft is the post being composed. Selection holds indexes into Pool in
// pool order.
type Draft struct {
	Caption    Caption
	ChannelIDs []string
	Selection  []int
	Pool       []*types.FetchedMedia
}

func newDraft(seed types.PostSeed) *Draft {
	d := &Draft{
		Caption:    ParseCaption(seed.Caption),
		ChannelIDs: slices.Clone(seed.ChannelIDs),
		Pool:       slices.Clone(seed.Media),
	}
	if d.Caption.Credits == nil {
		d.Caption.Credits = seed.Credits
	}
	return d
}

func (d *Draft) SelectedMedia() []*types.FetchedMedia {
	out := make([]*types.FetchedMedia, 0, len(d.Selection))
	for _, i := range d.Selection {
		if i >= 0 && i < len(d.Pool) {
			out = append(out, d.Pool[i])
		}
	}
	return out
}

func (d *Draft) Content() types.PostContent {
	return types.PostContent{
		Caption: d.Caption.Render(),
		Media:   d.SelectedMedia(),
	}
}

// SelectAll selects every pooled item.
func (d *Draft) SelectAll() {
	d.Selection = d.Selection[:0]
	for i := range d.Pool {
		d.Selection = append(d.Selection, i)
	}
}

// AddMedia appends media to the pool and selects it.
func (d *Draft) AddMedia(media []*types.FetchedMedia) {
	for _, m := range media {
		d.Pool = append(d.Pool, m)
		d.Selection = append(d.Selection, len(d.Pool)-1)
	}
}

func (d *Draft) clone() Draft {
	return Draft{
		Caption:    d.Caption,
		ChannelIDs: slices.Clone(d.ChannelIDs),
		Selection:  slices.Clone(d.Selection),
		Pool:       slices.Clone(d.Pool),
	}
}

// normalizeSelection drops out-of-range and repeated indexes and sorts the
// rest into pool order.
func normalizeSelection(selection []int, poolSize int) []int {
	seen := make(map[int]bool, len(selection))
	out := make([]int, 0, len(selection))
	for _, i := range selection {
		if i < 0 || i >= poolSize || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}
