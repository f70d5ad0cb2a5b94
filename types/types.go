package types

// GalleryImage is the public reference to a stored image, as returned by
// uploads and listings.
type GalleryImage struct {
	Link      string `json:"link"`
	PictureID string `json:"pictureId"`
}

// PictureDetail is the detail view of a single stored image.
type PictureDetail struct {
	Preview  string         `json:"preview"`
	Logs     []PictureEvent `json:"logs"`
	FileName string         `json:"fileName"`
}

// PictureEvent is an audit record shown on a picture's detail page. The image
// link is omitted because it is implied by the picture.
type PictureEvent struct {
	Date   string `json:"date"`
	IP     string `json:"ip"`
	Device string `json:"device"`
	Action string `json:"action"`
}
