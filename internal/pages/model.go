package pages

// Page summarizes the stored highlights of one page.
type Page struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_highlight_pages_user_updated,priority:1"`
	PageKey          string `gorm:"column:page_key;primaryKey;size:512;not null"`
	PageURL          string `gorm:"column:page_url;type:text;not null"`
	HighlightCount   int    `gorm:"column:highlight_count;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_highlight_pages_user_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Page) TableName() string {
	return "highlight_pages"
}

// StoredHighlight is one highlight record of a page.
type StoredHighlight struct {
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_highlight_records_page,priority:1"`
	PageKey         string `gorm:"column:page_key;primaryKey;size:512;not null;index:idx_highlight_records_page,priority:2"`
	HighlightID     string `gorm:"column:highlight_id;primaryKey;size:190;not null"`
	Position        int    `gorm:"column:position;not null;index:idx_highlight_records_page,priority:3"`
	Text            string `gorm:"column:text;type:text;not null"`
	Color           string `gorm:"column:color;size:32;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	AnchorPath      string `gorm:"column:anchor_path;type:text;not null;default:''"`
	TextOffset      int    `gorm:"column:text_offset;not null;default:0"`
	TextLength      int    `gorm:"column:text_length;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (StoredHighlight) TableName() string {
	return "highlight_records"
}
