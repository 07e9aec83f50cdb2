package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Movie 电影主表（来自 YTS 的元数据）
// ExternalID 是上游目录分配的稳定 ID，与内部主键 ID 区分；
// 同一个 ExternalID 只会入库一次，入库后不再更新。
type Movie struct {
	ID                      int64      `json:"id" gorm:"primaryKey"`
	ExternalID              int64      `json:"external_id" gorm:"uniqueIndex;not null"`
	ImdbCode                string     `json:"imdb_code"`
	Title                   string     `json:"title" gorm:"not null;index"`
	TitleEnglish            string     `json:"title_english"`
	TitleLong               string     `json:"title_long"`
	Slug                    string     `json:"slug"`
	Year                    int        `json:"year" gorm:"index"`
	Rating                  float64    `json:"rating" gorm:"index"`
	Runtime                 int        `json:"runtime"`
	DescriptionIntro        string     `json:"description_intro" gorm:"type:text"`
	DescriptionFull         string     `json:"description_full" gorm:"type:text"`
	YtTrailerCode           string     `json:"yt_trailer_code"`
	Language                string     `json:"language"`
	MpaRating               string     `json:"mpa_rating"`
	LikeCount               int        `json:"like_count" gorm:"default:0"`
	BackgroundImage         string     `json:"background_image"`
	BackgroundImageOriginal string     `json:"background_image_original"`
	SmallCoverImage         string     `json:"small_cover_image"`
	MediumCoverImage        string     `json:"medium_cover_image"`
	LargeCoverImage         string     `json:"large_cover_image"`
	DateUploaded            *time.Time `json:"date_uploaded"`
	DateUploadedUnix        int64      `json:"date_uploaded_unix"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`

	Genres    []Genre         `json:"genres,omitempty" gorm:"many2many:movie_genres"`
	Casts     []Cast          `json:"casts,omitempty" gorm:"many2many:movie_casts"`
	Torrents  []Torrent       `json:"torrents,omitempty"`
	Embedding *MovieEmbedding `json:"-"`
}

// Genre 电影类型，按名称去重（get-or-create）
type Genre struct {
	ID   int64  `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"`
}

// Cast 演员，按 (姓名, IMDb 编号) 去重（get-or-create）。
// CharacterName 只在入库时随电影携带，持久化在 movie_casts 关联表上。
type Cast struct {
	ID            int64  `json:"id" gorm:"primaryKey"`
	Name          string `json:"name" gorm:"not null;index"`
	ImdbCode      string `json:"imdb_code"`
	URLSmallImage string `json:"url_small_image"`
	CharacterName string `json:"character_name,omitempty" gorm:"-"`
}

// MovieCast 电影-演员关联表，角色名挂在关联上
type MovieCast struct {
	MovieID       int64  `json:"movie_id" gorm:"primaryKey"`
	CastID        int64  `json:"cast_id" gorm:"primaryKey"`
	CharacterName string `json:"character_name"`
}

// Torrent 电影的一个下载版本
type Torrent struct {
	ID               int64      `json:"id" gorm:"primaryKey"`
	MovieID          int64      `json:"movie_id" gorm:"not null;index"`
	URL              string     `json:"url"`
	Hash             string     `json:"hash"`
	Quality          string     `json:"quality"`
	Type             string     `json:"type"`
	IsRepack         bool       `json:"is_repack"`
	VideoCodec       string     `json:"video_codec"`
	BitDepth         string     `json:"bit_depth"`
	AudioChannels    string     `json:"audio_channels"`
	Seeds            int        `json:"seeds"`
	Peers            int        `json:"peers"`
	Size             string     `json:"size"`
	SizeBytes        int64      `json:"size_bytes"`
	DateUploaded     *time.Time `json:"date_uploaded"`
	DateUploadedUnix int64      `json:"date_uploaded_unix"`
}

// MovieEmbedding 电影向量，与电影一对一，主键即外键
type MovieEmbedding struct {
	MovieID   int64           `json:"movie_id" gorm:"primaryKey;autoIncrement:false"`
	Embedding pgvector.Vector `json:"-" gorm:"type:vector(768)"`
}
