package model

// MentionSource carries the provenance of a mention back to its content item.
// All fields are required by the extraction response schema.
type MentionSource struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Content   string `json:"content"`
	Upvotes   int    `json:"upvotes"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

// DishReference is an optional dish or category reference inside a mention.
// CategoryPath decomposes hierarchical categories, most general first
// (e.g. ["bbq", "brisket"]).
type DishReference struct {
	Name           string   `json:"name"`
	NormalizedName string   `json:"normalized_name"`
	CategoryPath   []string `json:"category_path,omitempty"`
	Attributes     []string `json:"attributes,omitempty"`
}

// Mention is one structured extraction of a restaurant reference from a single
// piece of source content. It is a request-scoped intermediate between the
// extraction client and the entity resolver and is never persisted directly.
type Mention struct {
	TempID                   string         `json:"temp_id"`
	RestaurantName           string         `json:"restaurant_name"`
	RestaurantNormalizedName string         `json:"restaurant_normalized_name"`
	RestaurantAttributes     []string       `json:"restaurant_attributes,omitempty"`
	Dish                     *DishReference `json:"dish,omitempty"`
	GeneralPraise            bool           `json:"general_praise"`
	Source                   MentionSource  `json:"source"`
}
