package models

import "time"

type Feedback struct {
	ID        int64     `db:"id" json:"id"`
	QueryText string    `db:"query_text" json:"query"`
	ImageID   int64     `db:"image_id" json:"image_id"`
	IsGood    bool      `db:"is_good" json:"is_good"`
	Score     *float64  `db:"score" json:"score"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type NewFeedback struct {
	QueryText string
	ImageID   int64
	IsGood    bool
	Score     *float64
}
