package model

import "time"

// Rating はATCレーティングを表す（VATSIM標準の昇順スケール）。
type Rating int

const (
	// RatingOBS はオブザーバー（最下位）。
	RatingOBS Rating = 1
	RatingS1  Rating = 2
	RatingS2  Rating = 3
	RatingS3  Rating = 4
	RatingC1  Rating = 5
	RatingC2  Rating = 6
	RatingC3  Rating = 7
	RatingI1  Rating = 8
	RatingI2  Rating = 9
	RatingI3  Rating = 10
	RatingSUP Rating = 11
	RatingADM Rating = 12
)

// ratingLabels はレーティング値から表示名へのマッピング。
var ratingLabels = map[Rating]string{
	RatingOBS: "OBS",
	RatingS1:  "S1",
	RatingS2:  "S2",
	RatingS3:  "S3",
	RatingC1:  "C1",
	RatingC2:  "C2",
	RatingC3:  "C3",
	RatingI1:  "I1",
	RatingI2:  "I2",
	RatingI3:  "I3",
	RatingSUP: "SUP",
	RatingADM: "ADM",
}

// String はレーティングの表示名を返す。未知の値は"OBS"を返す。
func (r Rating) String() string {
	if label, ok := ratingLabels[r]; ok {
		return label
	}
	return "OBS"
}

// ParseRating は表示名からレーティングを解析する。未知の表示名はok=falseを返す。
func ParseRating(label string) (Rating, bool) {
	for rating, l := range ratingLabels {
		if l == label {
			return rating, true
		}
	}
	return RatingOBS, false
}

// ratingStatKeys は統計APIのキーをレーティング昇順に並べたもの。
var ratingStatKeys = []struct {
	key    string
	rating Rating
}{
	{"s1", RatingS1},
	{"s2", RatingS2},
	{"s3", RatingS3},
	{"c1", RatingC1},
	{"c2", RatingC2},
	{"c3", RatingC3},
	{"i1", RatingI1},
	{"i2", RatingI2},
	{"i3", RatingI3},
	{"sup", RatingSUP},
	{"adm", RatingADM},
}

// RatingFromStats は統計APIの管制時間から最高レーティングを判定する。
// 1時間を超える管制実績があるレーティングを達成済みとみなし、
// 達成済みの中で最高のものを返す。実績がない場合はOBSを返す。
func RatingFromStats(stats map[string]float64) Rating {
	highest := RatingOBS
	for _, entry := range ratingStatKeys {
		hours, ok := stats[entry.key]
		if ok && hours > 1 && entry.rating > highest {
			highest = entry.rating
		}
	}
	return highest
}

// Candidate はブッキングに応募する管制官を表す。
// 外部ID（CID）を主キーとし、チャットプラットフォームのIDと紐付く。
type Candidate struct {
	CID         int64
	ChatUserID  string
	DisplayName string
	Rating      Rating

	// 参加実績カウンター（監査用の履歴集計）
	TotalApplications  int
	TotalParticipations int
	TotalNoShows       int
	TotalCancellations int

	AdminNotes string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Admin はボットの管理コマンドを使用できる管理者を表す。
type Admin struct {
	ID         string
	ChatUserID string
	Name       string
	CreatedAt  time.Time
}
