package item

// Container is a user-owned semantic bucket items are filed into.
type Container struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Name is the display name; NameNorm is its case-insensitive key
	Name     string `json:"name"`
	NameNorm string `json:"name_norm"`

	Description string `json:"description,omitempty"`

	// ItemCount mirrors the number of container_items rows (trigger maintained)
	ItemCount int `json:"item_count"`

	CreatedAt int64 `json:"created_at"`
}
