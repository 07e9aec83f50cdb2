package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/user/movievec/internal/model"
	"github.com/user/movievec/internal/utils"
)

// CatalogClient YTS 目录 API 客户端。
// 只负责取数和错误归一化，限速和并发控制由调用方（抓取流水线）掌握。
type CatalogClient struct {
	baseURL string
	client  *utils.HTTPClient
}

// NewCatalogClient 创建目录客户端
func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		client:  utils.NewHTTPClient(10 * time.Second),
	}
}

// listResponse /list_movies.json 响应
type listResponse struct {
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
	Data          struct {
		MovieCount int `json:"movie_count"`
		Limit      int `json:"limit"`
		PageNumber int `json:"page_number"`
		Movies     []struct {
			ID int64 `json:"id"`
		} `json:"movies"`
	} `json:"data"`
}

// detailResponse /movie_details.json 响应
type detailResponse struct {
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
	Data          struct {
		Movie detailMovie `json:"movie"`
	} `json:"data"`
}

type detailMovie struct {
	ID                      int64    `json:"id"`
	URL                     string   `json:"url"`
	ImdbCode                string   `json:"imdb_code"`
	Title                   string   `json:"title"`
	TitleEnglish            string   `json:"title_english"`
	TitleLong               string   `json:"title_long"`
	Slug                    string   `json:"slug"`
	Year                    int      `json:"year"`
	Rating                  float64  `json:"rating"`
	Runtime                 int      `json:"runtime"`
	Genres                  []string `json:"genres"`
	DescriptionIntro        string   `json:"description_intro"`
	DescriptionFull         string   `json:"description_full"`
	YtTrailerCode           string   `json:"yt_trailer_code"`
	Language                string   `json:"language"`
	MpaRating               string   `json:"mpa_rating"`
	LikeCount               int      `json:"like_count"`
	BackgroundImage         string   `json:"background_image"`
	BackgroundImageOriginal string   `json:"background_image_original"`
	SmallCoverImage         string   `json:"small_cover_image"`
	MediumCoverImage        string   `json:"medium_cover_image"`
	LargeCoverImage         string   `json:"large_cover_image"`
	DateUploadedUnix        int64    `json:"date_uploaded_unix"`
	Cast                    []struct {
		Name          string `json:"name"`
		CharacterName string `json:"character_name"`
		URLSmallImage string `json:"url_small_image"`
		ImdbCode      string `json:"imdb_code"`
	} `json:"cast"`
	Torrents []struct {
		URL              string `json:"url"`
		Hash             string `json:"hash"`
		Quality          string `json:"quality"`
		Type             string `json:"type"`
		IsRepack         string `json:"is_repack"`
		VideoCodec       string `json:"video_codec"`
		BitDepth         string `json:"bit_depth"`
		AudioChannels    string `json:"audio_channels"`
		Seeds            int    `json:"seeds"`
		Peers            int    `json:"peers"`
		Size             string `json:"size"`
		SizeBytes        int64  `json:"size_bytes"`
		DateUploadedUnix int64  `json:"date_uploaded_unix"`
	} `json:"torrents"`
}

// ListPage 取一页电影列表，按 ID 升序保证分页顺序稳定。
// 返回该页的外部 ID 和目录报告的电影总数。
func (c *CatalogClient) ListPage(ctx context.Context, page, pageSize int) ([]int64, int, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(pageSize))
	params.Set("sort_by", "id")
	params.Set("order_by", "asc")

	var resp listResponse
	reqURL := fmt.Sprintf("%s/list_movies.json?%s", c.baseURL, params.Encode())
	if err := c.client.GetJSON(ctx, reqURL, &resp); err != nil {
		return nil, 0, fmt.Errorf("获取列表页 %d 失败: %w", page, err)
	}
	if resp.Status != "ok" {
		return nil, 0, fmt.Errorf("列表页 %d 返回异常状态 %q: %s", page, resp.Status, resp.StatusMessage)
	}

	ids := make([]int64, 0, len(resp.Data.Movies))
	for _, m := range resp.Data.Movies {
		ids = append(ids, m.ID)
	}
	return ids, resp.Data.MovieCount, nil
}

// TotalCount 目录报告的电影总数，取第一页（limit=1）的计数字段
func (c *CatalogClient) TotalCount(ctx context.Context) (int, error) {
	_, total, err := c.ListPage(ctx, 1, 1)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// FetchDetail 取一部电影的完整详情（含剧照与演员表）。
// 上游对不存在的 ID 会返回一条占位记录，其 ID 与请求的不一致，
// 这种情况归一化为 ErrNotFound，与网络错误区分。
func (c *CatalogClient) FetchDetail(ctx context.Context, externalID int64) (*model.Movie, error) {
	params := url.Values{}
	params.Set("movie_id", strconv.FormatInt(externalID, 10))
	params.Set("with_images", "true")
	params.Set("with_cast", "true")

	var resp detailResponse
	reqURL := fmt.Sprintf("%s/movie_details.json?%s", c.baseURL, params.Encode())
	if err := c.client.GetJSON(ctx, reqURL, &resp); err != nil {
		return nil, fmt.Errorf("获取电影 %d 详情失败: %w", externalID, err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("电影 %d 详情返回异常状态 %q: %s", externalID, resp.Status, resp.StatusMessage)
	}
	if resp.Data.Movie.ID != externalID {
		return nil, fmt.Errorf("电影 %d: %w", externalID, ErrNotFound)
	}

	return mapDetail(&resp.Data.Movie), nil
}

// mapDetail 把目录返回的详情映射为内部模型
func mapDetail(d *detailMovie) *model.Movie {
	movie := &model.Movie{
		ExternalID:              d.ID,
		ImdbCode:                d.ImdbCode,
		Title:                   d.Title,
		TitleEnglish:            d.TitleEnglish,
		TitleLong:               d.TitleLong,
		Slug:                    d.Slug,
		Year:                    d.Year,
		Rating:                  d.Rating,
		Runtime:                 d.Runtime,
		DescriptionIntro:        d.DescriptionIntro,
		DescriptionFull:         d.DescriptionFull,
		YtTrailerCode:           d.YtTrailerCode,
		Language:                d.Language,
		MpaRating:               d.MpaRating,
		LikeCount:               d.LikeCount,
		BackgroundImage:         d.BackgroundImage,
		BackgroundImageOriginal: d.BackgroundImageOriginal,
		SmallCoverImage:         d.SmallCoverImage,
		MediumCoverImage:        d.MediumCoverImage,
		LargeCoverImage:         d.LargeCoverImage,
		DateUploadedUnix:        d.DateUploadedUnix,
		DateUploaded:            unixToTime(d.DateUploadedUnix),
	}

	for _, name := range d.Genres {
		movie.Genres = append(movie.Genres, model.Genre{Name: name})
	}
	for _, c := range d.Cast {
		movie.Casts = append(movie.Casts, model.Cast{
			Name:          c.Name,
			ImdbCode:      c.ImdbCode,
			URLSmallImage: c.URLSmallImage,
			CharacterName: c.CharacterName,
		})
	}
	for _, t := range d.Torrents {
		movie.Torrents = append(movie.Torrents, model.Torrent{
			URL:              t.URL,
			Hash:             t.Hash,
			Quality:          t.Quality,
			Type:             t.Type,
			IsRepack:         t.IsRepack == "1",
			VideoCodec:       t.VideoCodec,
			BitDepth:         t.BitDepth,
			AudioChannels:    t.AudioChannels,
			Seeds:            t.Seeds,
			Peers:            t.Peers,
			Size:             t.Size,
			SizeBytes:        t.SizeBytes,
			DateUploadedUnix: t.DateUploadedUnix,
			DateUploaded:     unixToTime(t.DateUploadedUnix),
		})
	}
	return movie
}

func unixToTime(unix int64) *time.Time {
	if unix <= 0 {
		return nil
	}
	t := time.Unix(unix, 0).UTC()
	return &t
}
