package backup

import "sort"

// Sort imposes the canonical channel ordering on a snapshot, in place:
// categories before all other channels, then ascending by position within
// each partition, with a stable sort so equal positions keep their relative
// order. Each category's child-id list is sorted ascending. Two backups of
// the same guild state therefore serialize identically modulo timestamps.
func Sort(snapshot *Snapshot) *Snapshot {
	if snapshot == nil || snapshot.Channels == nil {
		return snapshot
	}

	sort.SliceStable(snapshot.Channels, func(i, j int) bool {
		a, b := &snapshot.Channels[i], &snapshot.Channels[j]
		aCat, bCat := IsCategory(a), IsCategory(b)
		if aCat != bCat {
			return aCat
		}
		return a.Position < b.Position
	})

	for i := range snapshot.Channels {
		ch := &snapshot.Channels[i]
		if IsCategory(ch) && ch.Children != nil {
			sort.Strings(ch.Children)
		}
	}
	return snapshot
}

// Emoji and sticker downloads run concurrently, so their arrival order is
// nondeterministic; sorting by id keeps the output byte-stable.

func sortEmojis(emojis []EmojiRecord) {
	sort.Slice(emojis, func(i, j int) bool { return emojis[i].ID < emojis[j].ID })
}

func sortStickers(stickers []StickerRecord) {
	sort.Slice(stickers, func(i, j int) bool { return stickers[i].ID < stickers[j].ID })
}
