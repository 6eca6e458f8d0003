package school

// DidacticsItem is a file, link or text shared by a teacher in a folder.
// ID may be empty when the portal sent no usable identity; such items are
// kept for display but never take part in new-item detection.
type DidacticsItem struct {
	ID         string `json:"id"`
	Teacher    string `json:"teacher"`
	Folder     string `json:"folder"`
	Title      string `json:"title"`
	ShareDate  string `json:"share_date"`
	ObjectType string `json:"object_type,omitempty"`
	// ContentID addresses the file download; it falls back to ID.
	ContentID string `json:"content_id,omitempty"`
	LocalRef  string `json:"local_ref,omitempty"`
}

// DownloadID returns the identifier the portal serves the file under.
func (d DidacticsItem) DownloadID() string {
	if d.ContentID != "" {
		return d.ContentID
	}
	return d.ID
}

// AttachLocalRefs returns a copy of items where every item whose ID is in
// refs carries the matching local reference.
func AttachLocalRefs(items []DidacticsItem, refs map[string]string) []DidacticsItem {
	out := make([]DidacticsItem, len(items))
	for i, item := range items {
		if ref, ok := refs[item.ID]; ok && item.ID != "" {
			item.LocalRef = ref
		}
		out[i] = item
	}
	return out
}
