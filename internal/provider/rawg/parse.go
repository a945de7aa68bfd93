package rawg

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/rometa/internal/domain"
)

type named struct {
	Name string `json:"name"`
}

type detailResponse struct {
	ID             int     `json:"id"`
	Slug           string  `json:"slug"`
	Name           string  `json:"name"`
	DescriptionRaw string  `json:"description_raw"`
	Description    string  `json:"description"`
	Released       string  `json:"released"`
	Rating         float64 `json:"rating"`
	Metacritic     *int    `json:"metacritic"`
	Genres         []named `json:"genres"`
	Tags           []named `json:"tags"`
	Platforms      []struct {
		Platform named `json:"platform"`
	} `json:"platforms"`
	Developers []named `json:"developers"`
	Publishers []named `json:"publishers"`
	Playtime   int     `json:"playtime"`
}

// ParseDetail 把 /games/{id} 的响应体映射为 GameMeta。
//
// 纯函数：缺失字段取零值/空切片；name 缺失时回退为查询标题；tags 只保留前 10 个。
func ParseDetail(id int, raw []byte, fallbackTitle string) (*domain.GameMeta, error) {
	var d detailResponse
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("解析详情失败：%w", err)
	}
	if id <= 0 {
		id = d.ID
	}
	if id <= 0 {
		return nil, fmt.Errorf("详情缺少 id")
	}

	title := strings.TrimSpace(d.Name)
	if title == "" {
		title = fallbackTitle
	}

	desc := d.DescriptionRaw
	if strings.TrimSpace(desc) == "" && strings.TrimSpace(d.Description) != "" {
		desc = htmlText(d.Description)
	}

	tags := names(d.Tags)
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}

	platforms := make([]string, 0, len(d.Platforms))
	for _, p := range d.Platforms {
		if n := strings.TrimSpace(p.Platform.Name); n != "" {
			platforms = append(platforms, n)
		}
	}

	return &domain.GameMeta{
		ExternalID:      id,
		Title:           title,
		Description:     desc,
		DescriptionHTML: d.Description,
		Released:        d.Released,
		Rating:          d.Rating,
		Metacritic:      d.Metacritic,
		Genres:          names(d.Genres),
		Tags:            tags,
		Platforms:       platforms,
		Developers:      names(d.Developers),
		Publishers:      names(d.Publishers),
		Playtime:        d.Playtime,
		ExternalURL:     SiteGameURL + d.Slug,
	}, nil
}

func names(in []named) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		if s := strings.TrimSpace(n.Name); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// htmlText 把 RAWG 的 HTML 描述压成纯文本：块级元素之间用空行分隔，<br> 视为换行。
func htmlText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("br").ReplaceWithHtml("\n")

	var parts []string
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n\n")
}
