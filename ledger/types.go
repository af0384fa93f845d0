package ledger

// Metadata tags a history entry with its origin.
type Metadata map[string]any

// HistoryEntry is users/<key>/pointsHistory/<id>.
type HistoryEntry struct {
	ID    string   `json:"id"`
	Delta int64    `json:"delta"`
	After int64    `json:"after"`
	Meta  Metadata `json:"meta,omitempty"`
	At    int64    `json:"at"`
}

// CourseCompletion is users/<key>/coursesCompleted/<courseId>.
type CourseCompletion struct {
	Completed   bool   `json:"completed"`
	CourseName  string `json:"courseName"`
	Points      int64  `json:"points"`
	CompletedAt int64  `json:"completedAt"`
}

// Sticker is users/<key>/stickers/<stickerId>.
type Sticker struct {
	CollectedAt int64  `json:"collectedAt"`
	EventName   string `json:"eventName"`
	VerifiedBy  string `json:"verifiedBy"`
}

// Unlocks is users/<key>/unlocks. Flags only ever go from false to true.
type Unlocks struct {
	Certificate  bool `json:"certificate,omitempty"`
	AllCollected bool `json:"allCollected,omitempty"`
}

// AwardResult is returned by AwardCourseOnce.
type AwardResult struct {
	Awarded bool  `json:"awarded"`
	Total   int64 `json:"total"`
}

// StickerResult is returned by RecordSticker.
type StickerResult struct {
	OK        bool     `json:"ok"`
	Duplicate bool     `json:"duplicate,omitempty"`
	Count     int      `json:"count,omitempty"`
	Total     int64    `json:"total,omitempty"`
	Unlocked  []string `json:"unlocked,omitempty"`
}

const (
	SourceCourse  = "short_course"
	SourceSticker = "sticker"

	UnlockCertificate  = "certificate"
	UnlockAllCollected = "allCollected"

	// Unique sticker counts at which the unlocks fire.
	CertificateThreshold  = 3
	AllCollectedThreshold = 4

	DefaultStickerAward int64 = 10
)
