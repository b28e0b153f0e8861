package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	gtypes "githubie.shikanime.studio/internal/types"
)

// DefaultTop is the number of repositories plotted on the stars chart.
const DefaultTop = 20

// TopicCounts returns, for each topic of col in order, how many repositories
// of entry carry it.
func TopicCounts(col gtypes.Collection, entry gtypes.CacheEntry) []opts.PieData {
	counts := make(map[string]int, len(col.Topics))
	for _, list := range [][]gtypes.Repository{entry.Unseen, entry.Seen} {
		for _, r := range list {
			for _, t := range r.Topics {
				counts[t]++
			}
		}
	}
	seen := make(map[string]struct{}, len(col.Topics))
	items := make([]opts.PieData, 0, len(col.Topics))
	for _, t := range col.Topics {
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		items = append(items, opts.PieData{Name: t.Name, Value: counts[t.Name]})
	}
	return items
}

// Render writes an HTML page charting the cached result of col: the stars of
// the top unseen repositories and the repository count per topic.
func Render(w io.Writer, col gtypes.Collection, entry gtypes.CacheEntry, top int) error {
	if top <= 0 {
		top = DefaultTop
	}
	repos := entry.Unseen
	if len(repos) > top {
		repos = repos[:top]
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    col.Name,
			Subtitle: fmt.Sprintf("Top %d unseen repositories by stars", len(repos)),
		}),
		charts.WithThemeOpts(opts.Theme{Theme: types.ThemeWesteros}),
	)
	barX := make([]string, 0, len(repos))
	barY := make([]opts.BarData, 0, len(repos))
	for _, r := range repos {
		barX = append(barX, r.Owner+"/"+r.Name)
		barY = append(barY, opts.BarData{Value: r.Stars})
	}
	bar.SetXAxis(barX).AddSeries("Stars", barY)

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Topic Coverage"}),
		charts.WithThemeOpts(opts.Theme{Theme: types.ThemeWesteros}),
	)
	pie.AddSeries("Repositories", TopicCounts(col, entry))

	page := components.NewPage()
	page.AddCharts(bar, pie)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart failed: %w", err)
	}
	return nil
}
