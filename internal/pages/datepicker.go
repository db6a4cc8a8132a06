package pages

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kingrea/scenekit/internal/availability"
	"github.com/kingrea/scenekit/internal/callback"
	"github.com/kingrea/scenekit/internal/page"
	"github.com/kingrea/scenekit/internal/scenedef"
	"github.com/kingrea/scenekit/internal/transport"
)

// SlotStep is the granularity of the minute grid.
const SlotStep = 5 * time.Minute

// Picker stages.
const (
	StageDay    = "day"
	StageHour   = "hour"
	StageMinute = "minute"
)

const (
	cbMonth  = "month"
	cbDay    = "day"
	cbHour   = "hour"
	cbMin    = "min"
	cbBack   = "back"
	cbCheck  = "check"
	cbNoop   = "noop"
	cbBusy   = "busy"
	keyStage = "stage"
	keyMonth = "month"
	keyDate  = "date"
	keyHour  = "hour"
	keyCheck = "check"
	keyRet   = "return"

	monthLayout = "2006-01"
	dateLayout  = "2006-01-02"
)

// Density markers for partially booked slots, lightest first.
var densityMarkers = []string{"░", "▒", "▓", "█"}

const fullMarker = "✕"

// DatePickerConfig configures the cascading date/time picker.
type DatePickerConfig struct {
	// TargetKey receives the confirmed time (RFC3339) in the scene namespace.
	TargetKey string
	// ReturnPage is entered after confirmation. Empty returns to the page the
	// picker was opened from.
	ReturnPage string
	// MinDelta is the minimum lead time between now and a selectable slot.
	MinDelta time.Duration
	// Checker marks booked slots; nil disables availability marks.
	Checker availability.Checker
	// CheckAvailability is the initial state of the availability toggle.
	CheckAvailability bool
	// FirstHour and LastHour bound the bookable hours of a day, [First, Last).
	FirstHour int
	LastHour  int
}

type cacheKey struct {
	date  string
	check bool
}

type slotState int

const (
	slotFree slotState = iota
	slotPartial
	slotFull
	slotPast
)

type slotMark struct {
	state    slotState
	fraction float64
}

func (m slotMark) selectable() bool {
	return m.state == slotFree || m.state == slotPartial
}

func (m slotMark) decorate(label string) string {
	switch m.state {
	case slotFull:
		return fullMarker + " " + label
	case slotPast:
		return "· " + label
	case slotPartial:
		return label + " " + densityMarker(m.fraction)
	default:
		return label
	}
}

func densityMarker(fraction float64) string {
	tier := int(fraction * float64(len(densityMarkers)))
	if fraction > 0 && float64(tier) == fraction*float64(len(densityMarkers)) {
		tier--
	}
	if tier < 0 {
		tier = 0
	}
	if tier >= len(densityMarkers) {
		tier = len(densityMarkers) - 1
	}
	return densityMarkers[tier]
}

// DatePicker walks the user through day, hour and five-minute slot. Booked
// ranges are fetched once per (date, check flag) while the page is visited.
type DatePicker struct {
	*page.Base
	cfg   DatePickerConfig
	cache map[cacheKey][]availability.Range
}

// NewDatePicker builds a DatePicker page.
func NewDatePicker(def scenedef.Page, s page.Session, cfg DatePickerConfig) (*DatePicker, error) {
	if cfg.TargetKey == "" {
		return nil, fmt.Errorf("pages: %s: date picker needs a target key", def.Name)
	}
	if cfg.LastHour == 0 {
		cfg.LastHour = 24
	}
	if cfg.FirstHour < 0 || cfg.LastHour > 24 || cfg.FirstHour >= cfg.LastHour {
		return nil, fmt.Errorf("pages: %s: invalid hour window %d-%d", def.Name, cfg.FirstHour, cfg.LastHour)
	}
	p := &DatePicker{Base: page.NewBase(def, s), cfg: cfg, cache: map[cacheKey][]availability.Range{}}
	p.Router().
		Callback(cbMonth, p.onMonth).
		Callback(cbDay, p.onDay).
		Callback(cbHour, p.onHour).
		Callback(cbMin, p.onMinute).
		Callback(cbBack, p.onBack).
		Callback(cbCheck, p.onCheck).
		Callback(cbNoop, func(context.Context, callback.Token) error { return nil }).
		Callback(cbBusy, p.onBusy)
	if err := p.Router().Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// DatePickerFactory returns a page.Factory for cfg.
func DatePickerFactory(cfg DatePickerConfig) page.Factory {
	return func(def scenedef.Page, s page.Session) (page.Page, error) {
		return NewDatePicker(def, s, cfg)
	}
}

// OnEnter resets the picker to the day grid of the current month and drops
// cached availability.
func (p *DatePicker) OnEnter(context.Context) error {
	p.cache = map[cacheKey][]availability.Range{}
	now := p.now()
	p.Set(keyStage, StageDay)
	p.Set(keyMonth, now.Format(monthLayout))
	p.Unset(keyDate)
	p.Unset(keyHour)
	p.Set(keyCheck, p.cfg.Checker != nil && p.cfg.CheckAvailability)
	last, _ := p.Session().GetKey(scenedef.SceneNamespace, "last_page")
	p.Set(keyRet, page.AsString(last))
	return nil
}

// Stage returns the current stage.
func (p *DatePicker) Stage() string {
	v, _ := p.Get(keyStage)
	switch s := page.AsString(v); s {
	case StageHour, StageMinute:
		return s
	default:
		return StageDay
	}
}

func (p *DatePicker) now() time.Time {
	return p.Session().Now()
}

func (p *DatePicker) earliest() time.Time {
	return p.now().Add(p.cfg.MinDelta)
}

func (p *DatePicker) checking() bool {
	if p.cfg.Checker == nil {
		return false
	}
	v, ok := p.Get(keyCheck)
	if !ok {
		return p.cfg.CheckAvailability
	}
	b, _ := v.(bool)
	return b
}

func (p *DatePicker) month() time.Time {
	now := p.now()
	v, _ := p.Get(keyMonth)
	if t, err := time.ParseInLocation(monthLayout, page.AsString(v), now.Location()); err == nil {
		return t
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

func (p *DatePicker) date() (time.Time, bool) {
	v, _ := p.Get(keyDate)
	t, err := time.ParseInLocation(dateLayout, page.AsString(v), p.now().Location())
	return t, err == nil
}

func (p *DatePicker) hour() int {
	v, _ := p.Get(keyHour)
	h, _ := page.AsInt(v)
	return h
}

// booked returns the booked ranges of day, querying the checker at most once
// per (day, check flag) during a visit.
func (p *DatePicker) booked(ctx context.Context, day time.Time) ([]availability.Range, error) {
	key := cacheKey{date: day.Format(dateLayout), check: p.checking()}
	if ranges, ok := p.cache[key]; ok {
		return ranges, nil
	}
	var ranges []availability.Range
	if key.check {
		var err error
		ranges, err = p.cfg.Checker.Booked(ctx, day, day.AddDate(0, 0, 1))
		if err != nil {
			return nil, fmt.Errorf("pages: %s: availability for %s: %w", p.Name(), key.date, err)
		}
	}
	p.cache[key] = ranges
	return ranges, nil
}

// mark classifies [from, to) against lead time and bookings.
func (p *DatePicker) mark(ranges []availability.Range, from, to time.Time) slotMark {
	earliest := p.earliest()
	if to.Add(-SlotStep).Before(earliest) {
		return slotMark{state: slotPast}
	}
	start := from
	if start.Before(earliest) {
		start = ceilStep(earliest, from)
	}
	span := to.Sub(start)
	if span <= 0 {
		return slotMark{state: slotPast}
	}
	taken := availability.Overlap(ranges, start, to)
	switch {
	case taken >= span:
		return slotMark{state: slotFull, fraction: 1}
	case taken > 0:
		return slotMark{state: slotPartial, fraction: float64(taken) / float64(span)}
	default:
		return slotMark{state: slotFree}
	}
}

// ceilStep rounds t up to the next slot boundary counted from origin.
func ceilStep(t, origin time.Time) time.Time {
	d := t.Sub(origin)
	steps := d / SlotStep
	if d%SlotStep != 0 {
		steps++
	}
	return origin.Add(steps * SlotStep)
}

func (p *DatePicker) dayWindow(day time.Time) (time.Time, time.Time) {
	from := time.Date(day.Year(), day.Month(), day.Day(), p.cfg.FirstHour, 0, 0, 0, day.Location())
	to := time.Date(day.Year(), day.Month(), day.Day(), p.cfg.LastHour, 0, 0, 0, day.Location())
	return from, to
}

func (p *DatePicker) dayMark(ctx context.Context, day time.Time) (slotMark, error) {
	ranges, err := p.booked(ctx, day)
	if err != nil {
		return slotMark{}, err
	}
	from, to := p.dayWindow(day)
	return p.mark(ranges, from, to), nil
}

func (p *DatePicker) hourMark(ctx context.Context, day time.Time, hour int) (slotMark, error) {
	ranges, err := p.booked(ctx, day)
	if err != nil {
		return slotMark{}, err
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
	return p.mark(ranges, from, from.Add(time.Hour)), nil
}

func (p *DatePicker) minuteMark(ctx context.Context, day time.Time, hour, minute int) (slotMark, error) {
	ranges, err := p.booked(ctx, day)
	if err != nil {
		return slotMark{}, err
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
	return p.mark(ranges, from, from.Add(SlotStep)), nil
}

// Content shows the template followed by the current selection.
func (p *DatePicker) Content(context.Context) (string, error) {
	content := p.Template(p.Definition().Content)
	var line string
	switch p.Stage() {
	case StageDay:
		line = "Choose a day."
	case StageHour:
		day, _ := p.date()
		line = fmt.Sprintf("%s. Choose an hour.", day.Format("02.01.2006"))
	case StageMinute:
		day, _ := p.date()
		line = fmt.Sprintf("%s %02d:00. Choose a time.", day.Format("02.01.2006"), p.hour())
	}
	if content != "" {
		content += "\n\n"
	}
	content += line
	if p.checking() {
		content += "\n" + fullMarker + " booked, ░▒▓█ partly booked"
	}
	return content, nil
}

// Buttons renders the grid of the current stage.
func (p *DatePicker) Buttons(ctx context.Context) (transport.Keyboard, error) {
	var (
		kb  transport.Keyboard
		err error
	)
	switch p.Stage() {
	case StageHour:
		kb, err = p.hourGrid(ctx)
	case StageMinute:
		kb, err = p.minuteGrid(ctx)
	default:
		kb, err = p.dayGrid(ctx)
	}
	if err != nil {
		return nil, err
	}
	if p.cfg.Checker != nil {
		label := "Availability: off"
		if p.checking() {
			label = "Availability: on"
		}
		btn, err := p.Button(label, cbCheck)
		if err != nil {
			return nil, err
		}
		kb = append(kb, transport.Row{btn})
	}
	return kb, nil
}

func (p *DatePicker) slotButton(label string, m slotMark, kind, arg string) (transport.Button, error) {
	if !m.selectable() {
		return p.Button(m.decorate(label), cbBusy)
	}
	return p.Button(m.decorate(label), kind, arg)
}

func (p *DatePicker) dayGrid(ctx context.Context) (transport.Keyboard, error) {
	month := p.month()
	now := p.now()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	prev, err := p.Button("‹", cbNoop)
	if month.After(current) {
		prev, err = p.Button("‹", cbMonth, month.AddDate(0, -1, 0).Format(monthLayout))
	}
	if err != nil {
		return nil, err
	}
	title, err := p.Button(month.Format("January 2006"), cbNoop)
	if err != nil {
		return nil, err
	}
	next, err := p.Button("›", cbMonth, month.AddDate(0, 1, 0).Format(monthLayout))
	if err != nil {
		return nil, err
	}
	kb := transport.Keyboard{{prev, title, next}}

	var header transport.Row
	for _, wd := range []string{"Mo", "Tu", "We", "Th", "Fr", "Sa", "Su"} {
		btn, err := p.Button(wd, cbNoop)
		if err != nil {
			return nil, err
		}
		header = append(header, btn)
	}
	kb = append(kb, header)

	blank, err := p.Button(" ", cbNoop)
	if err != nil {
		return nil, err
	}
	lead := (int(month.Weekday()) + 6) % 7
	row := make(transport.Row, 0, 7)
	for i := 0; i < lead; i++ {
		row = append(row, blank)
	}
	for day := month; day.Month() == month.Month(); day = day.AddDate(0, 0, 1) {
		m, err := p.dayMark(ctx, day)
		if err != nil {
			return nil, err
		}
		btn, err := p.slotButton(strconv.Itoa(day.Day()), m, cbDay, day.Format(dateLayout))
		if err != nil {
			return nil, err
		}
		row = append(row, btn)
		if len(row) == 7 {
			kb = append(kb, row)
			row = make(transport.Row, 0, 7)
		}
	}
	if len(row) > 0 {
		for len(row) < 7 {
			row = append(row, blank)
		}
		kb = append(kb, row)
	}
	return kb, nil
}

func (p *DatePicker) backRow() (transport.Row, error) {
	back, err := p.Button("‹ Back", cbBack)
	if err != nil {
		return nil, err
	}
	return transport.Row{back}, nil
}

func (p *DatePicker) hourGrid(ctx context.Context) (transport.Keyboard, error) {
	day, ok := p.date()
	if !ok {
		return p.dayGrid(ctx)
	}
	var (
		kb  transport.Keyboard
		row transport.Row
	)
	for h := p.cfg.FirstHour; h < p.cfg.LastHour; h++ {
		m, err := p.hourMark(ctx, day, h)
		if err != nil {
			return nil, err
		}
		btn, err := p.slotButton(fmt.Sprintf("%02d:00", h), m, cbHour, strconv.Itoa(h))
		if err != nil {
			return nil, err
		}
		row = append(row, btn)
		if len(row) == 4 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	back, err := p.backRow()
	if err != nil {
		return nil, err
	}
	return append(kb, back), nil
}

func (p *DatePicker) minuteGrid(ctx context.Context) (transport.Keyboard, error) {
	day, ok := p.date()
	if !ok {
		return p.dayGrid(ctx)
	}
	h := p.hour()
	var (
		kb  transport.Keyboard
		row transport.Row
	)
	for minute := 0; minute < 60; minute += int(SlotStep / time.Minute) {
		m, err := p.minuteMark(ctx, day, h, minute)
		if err != nil {
			return nil, err
		}
		btn, err := p.slotButton(fmt.Sprintf("%02d:%02d", h, minute), m, cbMin, strconv.Itoa(minute))
		if err != nil {
			return nil, err
		}
		row = append(row, btn)
		if len(row) == 4 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	back, err := p.backRow()
	if err != nil {
		return nil, err
	}
	return append(kb, back), nil
}

func (p *DatePicker) onMonth(ctx context.Context, tok callback.Token) error {
	month, err := time.ParseInLocation(monthLayout, tok.Arg(1), p.now().Location())
	if err != nil {
		return nil
	}
	p.Set(keyMonth, month.Format(monthLayout))
	p.Set(keyStage, StageDay)
	return p.Session().UpdateMessage(ctx)
}

func (p *DatePicker) onDay(ctx context.Context, tok callback.Token) error {
	day, err := time.ParseInLocation(dateLayout, tok.Arg(1), p.now().Location())
	if err != nil {
		return nil
	}
	m, err := p.dayMark(ctx, day)
	if err != nil {
		return err
	}
	if !m.selectable() {
		return p.onBusy(ctx, tok)
	}
	p.Set(keyDate, day.Format(dateLayout))
	p.Set(keyStage, StageHour)
	return p.Session().UpdateMessage(ctx)
}

func (p *DatePicker) onHour(ctx context.Context, tok callback.Token) error {
	day, ok := p.date()
	h, err := strconv.Atoi(tok.Arg(1))
	if !ok || err != nil || h < p.cfg.FirstHour || h >= p.cfg.LastHour {
		return nil
	}
	m, err := p.hourMark(ctx, day, h)
	if err != nil {
		return err
	}
	if !m.selectable() {
		return p.onBusy(ctx, tok)
	}
	p.Set(keyHour, h)
	p.Set(keyStage, StageMinute)
	return p.Session().UpdateMessage(ctx)
}

func (p *DatePicker) onMinute(ctx context.Context, tok callback.Token) error {
	day, ok := p.date()
	minute, err := strconv.Atoi(tok.Arg(1))
	if !ok || err != nil || minute < 0 || minute >= 60 {
		return nil
	}
	h := p.hour()
	m, err := p.minuteMark(ctx, day, h, minute)
	if err != nil {
		return err
	}
	if !m.selectable() {
		return p.onBusy(ctx, tok)
	}
	chosen := time.Date(day.Year(), day.Month(), day.Day(), h, minute, 0, 0, day.Location())
	value := chosen.Format(time.RFC3339)
	p.Set(keyValue, value)
	p.SetShared(p.cfg.TargetKey, value)

	ret := p.cfg.ReturnPage
	if ret == "" {
		v, _ := p.Get(keyRet)
		ret = page.AsString(v)
	}
	if ret == p.Name() {
		ret = ""
	}
	return p.Transition(ctx, ret)
}

func (p *DatePicker) onBack(ctx context.Context, _ callback.Token) error {
	switch p.Stage() {
	case StageMinute:
		p.Set(keyStage, StageHour)
	case StageHour:
		p.Set(keyStage, StageDay)
	default:
		return nil
	}
	return p.Session().UpdateMessage(ctx)
}

func (p *DatePicker) onCheck(ctx context.Context, _ callback.Token) error {
	if p.cfg.Checker == nil {
		return nil
	}
	p.Set(keyCheck, !p.checking())
	return p.Session().UpdateMessage(ctx)
}

func (p *DatePicker) onBusy(ctx context.Context, _ callback.Token) error {
	return p.Session().Notify(ctx, "This time is not available.")
}
