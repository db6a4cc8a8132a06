// Package demo binds the booking scene definition (scenes/booking.yaml) to
// page controllers. It exercises every stock page variant and is what the
// service binaries register by default.
package demo

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/scenekit/internal/availability"
	"github.com/kingrea/scenekit/internal/callback"
	"github.com/kingrea/scenekit/internal/page"
	"github.com/kingrea/scenekit/internal/pages"
	"github.com/kingrea/scenekit/internal/scene"
	"github.com/kingrea/scenekit/internal/scenedef"
	"github.com/kingrea/scenekit/internal/transport"
)

// SceneType is the registered booking scene type.
const SceneType = "booking"

// HookLogVisit is the enter hook listed by the date page.
const HookLogVisit = "log_visit"

const (
	cbConfirm = "confirm"
	cbReset   = "reset"
	notSet    = "not set"

	whenLayout = "Mon 02 Jan 15:04"
)

// Services offered by the radio page.
var Services = []pages.Choice{
	{Key: "cut", Label: "Haircut"},
	{Key: "color", Label: "Coloring"},
	{Key: "beard", Label: "Beard trim"},
	{Key: "wash", Label: "Wash and style"},
	{Key: "kids", Label: "Kids cut"},
}

// Extras offered by the multi-select page.
var Extras = []pages.Choice{
	{Key: "tea", Label: "Tea"},
	{Key: "massage", Label: "Head massage"},
	{Key: "towel", Label: "Hot towel"},
	{Key: "parking", Label: "Parking"},
	{Key: "photo", Label: "Photo"},
}

// Options configures Register.
type Options struct {
	Checker  availability.Checker
	MinDelta time.Duration
	Logger   zerolog.Logger
}

// Register installs the booking blueprint and its hooks.
func Register(types *scene.Types, hooks *scene.Hooks, opts Options) error {
	if opts.MinDelta <= 0 {
		opts.MinDelta = time.Hour
	}
	if err := hooks.Register(HookLogVisit, logVisit(opts.Logger)); err != nil {
		return err
	}
	return types.Register(scene.Blueprint{
		Type: SceneType,
		Pages: map[string]page.Factory{
			"main": newSummary,
			"name": pages.TextFactory(pages.TextConfig{SceneKey: "name", Next: "main", MinLen: 2, MaxLen: 40}),
			"guests": pages.NumberFactory(pages.NumberConfig{
				SceneKey: "guests", Next: "main", Min: pages.Int64(1), Max: pages.Int64(12),
			}),
			"service": pages.RadioFactory(pages.RadioConfig{
				Options: Services, PageSize: 3, SceneKey: "service", Next: "main",
				OnSelected: storeServiceLabel,
			}),
			"extras": pages.OptionFactory(pages.OptionConfig{
				Options: Extras, PageSize: 3, SceneKey: "extras", MaxSelect: 3, Next: "main",
			}),
			"when": pages.DatePickerFactory(pages.DatePickerConfig{
				TargetKey:         "when",
				ReturnPage:        "main",
				MinDelta:          opts.MinDelta,
				Checker:           opts.Checker,
				CheckAvailability: opts.Checker != nil,
				FirstHour:         9,
				LastHour:          18,
			}),
		},
	})
}

// SampleCalendar returns a static calendar with a few bookings on the days
// after now, for local runs.
func SampleCalendar(now time.Time) *availability.Static {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	cal := availability.NewStatic()
	for i := 1; i <= 14; i++ {
		d := day.AddDate(0, 0, i)
		cal.Add(availability.Range{From: d.Add(12 * time.Hour), To: d.Add(13 * time.Hour)})
		if i%3 == 0 {
			cal.Add(availability.Range{From: d.Add(9 * time.Hour), To: d.Add(18 * time.Hour)})
		}
		if i%2 == 0 {
			cal.Add(availability.Range{From: d.Add(15*time.Hour + 30*time.Minute), To: d.Add(16 * time.Hour)})
		}
	}
	return cal
}

func logVisit(logger zerolog.Logger) scene.Hook {
	return func(_ context.Context, s *scene.Scene) error {
		logger.Info().Int64("user_id", s.UserID()).Str("scene", s.SceneType()).Str("page", s.CurrentPage()).Msg("demo: date picker opened")
		return nil
	}
}

func storeServiceLabel(_ context.Context, s page.Session, key string) error {
	for _, c := range Services {
		if c.Key == key {
			s.UpdateKey(scenedef.SceneNamespace, "service_label", c.Label)
			return nil
		}
	}
	return fmt.Errorf("demo: unknown service %q", key)
}

// summary is the booking overview. It shows the collected fields and, once
// everything is filled in, a confirm button.
type summary struct {
	*page.Base
}

func newSummary(def scenedef.Page, s page.Session) (page.Page, error) {
	p := &summary{Base: page.NewBase(def, s)}
	p.Router().Callback(cbConfirm, p.onConfirm)
	p.Router().Callback(cbReset, p.onReset)
	if err := p.Router().Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *summary) shared(key string) any {
	v, _ := p.Session().GetKey(scenedef.SceneNamespace, key)
	return v
}

func (p *summary) when() (time.Time, bool) {
	raw := page.AsString(p.shared("when"))
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	return t, err == nil
}

func (p *summary) extras() []string {
	keys := page.AsStrings(p.shared("extras"))
	labels := make([]string, 0, len(keys))
	for _, key := range keys {
		for _, c := range Extras {
			if c.Key == key {
				labels = append(labels, c.Label)
			}
		}
	}
	return labels
}

func (p *summary) complete() bool {
	_, hasWhen := p.when()
	return page.AsString(p.shared("name")) != "" &&
		p.shared("guests") != nil &&
		page.AsString(p.shared("service")) != "" &&
		hasWhen
}

func field(label string, value string) string {
	if value == "" {
		value = "<i>" + notSet + "</i>"
	} else {
		value = html.EscapeString(value)
	}
	return label + ": " + value
}

// Content implements page.Page.
func (p *summary) Content(context.Context) (string, error) {
	lines := []string{p.Template(p.Definition().Content), ""}
	lines = append(lines, field("Name", page.AsString(p.shared("name"))))
	guests := ""
	if n, ok := page.AsInt(p.shared("guests")); ok {
		guests = fmt.Sprint(n)
	}
	lines = append(lines, field("Guests", guests))
	lines = append(lines, field("Service", page.AsString(p.shared("service_label"))))
	lines = append(lines, field("Extras", strings.Join(p.extras(), ", ")))
	when := ""
	if t, ok := p.when(); ok {
		when = t.Format(whenLayout)
	}
	lines = append(lines, field("When", when))
	return strings.Join(lines, "\n"), nil
}

// Buttons implements page.Page.
func (p *summary) Buttons(context.Context) (transport.Keyboard, error) {
	reset, err := p.Button("Start over", cbReset)
	if err != nil {
		return nil, err
	}
	if !p.complete() {
		return transport.Keyboard{{reset}}, nil
	}
	confirm, err := p.Button("✅ Confirm", cbConfirm)
	if err != nil {
		return nil, err
	}
	return transport.Keyboard{{confirm, reset}}, nil
}

func (p *summary) onConfirm(ctx context.Context, _ callback.Token) error {
	if !p.complete() {
		return p.Session().Notify(ctx, "Fill in every field first.")
	}
	t, _ := p.when()
	p.SetShared("when_label", t.Format(whenLayout))
	if err := p.Session().Notify(ctx, "Booking confirmed."); err != nil {
		return err
	}
	return p.Transition(ctx, "done")
}

func (p *summary) onReset(ctx context.Context, _ callback.Token) error {
	for _, key := range []string{"name", "guests", "service", "service_label", "extras", "when", "when_label"} {
		p.Session().DeleteKey(scenedef.SceneNamespace, key)
	}
	if err := p.Session().Notify(ctx, "Cleared."); err != nil {
		return err
	}
	return p.Transition(ctx, "")
}
