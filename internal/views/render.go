// Package views renders the HTML price table and the change notification email.
package views

import (
	"errors"
	"html/template"
	"io"
	"io/fs"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

const timeLayout = "2006-01-02 15:04 MST"

var tmpl *template.Template

var funcs = template.FuncMap{
	"cssClass":   CSSClass,
	"signed":     signed,
	"formatTime": formatTime,
	"inc":        func(i int) int { return i + 1 },
}

// loadTemplatesFromFS loads templates from the given fs and dir.
// Used by LoadTemplates and by tests to simulate failure scenarios.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	t, err := template.New("").Funcs(funcs).ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	tmpl = t
	return nil
}

// LoadTemplates loads the embedded templates. Call during startup before
// serving requests or sending mail.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// CSSClass maps a variance class to the CSS class used to colour it.
// A decrease is good news for drivers.
func CSSClass(c models.VarianceClass) string {
	switch c {
	case models.VarianceDecrease:
		return "success"
	case models.VarianceIncrease:
		return "danger"
	default:
		return "muted"
	}
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.String()
	}
	return d.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

// FuelView is one price cell.
type FuelView struct {
	PriceOld    decimal.Decimal
	PriceNew    decimal.Decimal
	Variance    decimal.Decimal
	Class       models.VarianceClass
	Changed     bool
	LastUpdated time.Time
}

// StationView is one table row.
type StationView struct {
	Code    int
	Name    string
	Brand   string
	Address string
	Updated bool
	Fuels   map[string]*FuelView
}

// PageData is the view model shared by the index page and the email.
type PageData struct {
	Title      string
	FuelTypes  []string
	Stations   []StationView
	LastPollAt time.Time
}

// NewPageData builds the view model from station state. Stations are ordered by code.
// If fuelTypes is empty, every fuel type present in stations becomes a column.
// Times are shown in loc; a nil loc keeps UTC.
func NewPageData(title string, stations map[int]models.Station, fuelTypes []string, lastPoll time.Time, loc *time.Location) *PageData {
	if loc == nil {
		loc = time.UTC
	}

	codes := make([]int, 0, len(stations))
	for code := range stations {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	columns := fuelTypes
	seen := make(map[string]bool)
	rows := make([]StationView, 0, len(codes))
	for _, code := range codes {
		st := stations[code]
		row := StationView{
			Code:    st.Code,
			Name:    st.Metadata.Name,
			Brand:   st.Metadata.Brand,
			Address: st.Metadata.Address,
			Updated: st.LastUpdatedFlag,
			Fuels:   make(map[string]*FuelView, len(st.FuelEntries)),
		}
		for ft, e := range st.FuelEntries {
			seen[ft] = true
			row.Fuels[ft] = &FuelView{
				PriceOld:    e.PriceOld,
				PriceNew:    e.PriceNew,
				Variance:    e.Variance,
				Class:       e.VarianceClass,
				Changed:     e.VarianceClass != models.VarianceUnchanged,
				LastUpdated: e.LastUpdated.In(loc),
			}
		}
		rows = append(rows, row)
	}

	if len(columns) == 0 {
		for ft := range seen {
			columns = append(columns, ft)
		}
		sort.Strings(columns)
	}

	data := &PageData{
		Title:     title,
		FuelTypes: columns,
		Stations:  rows,
	}
	if !lastPoll.IsZero() {
		data.LastPollAt = lastPoll.In(loc)
	}
	return data
}

// RenderIndex executes the price table page into w.
func RenderIndex(w io.Writer, data *PageData) error {
	if tmpl == nil {
		return errors.New("templates not loaded: call views.LoadTemplates during startup")
	}
	return tmpl.ExecuteTemplate(w, "index.html", data)
}

// RenderEmail executes the change notification email body into w.
func RenderEmail(w io.Writer, data *PageData) error {
	if tmpl == nil {
		return errors.New("templates not loaded: call views.LoadTemplates during startup")
	}
	return tmpl.ExecuteTemplate(w, "email.html", data)
}
