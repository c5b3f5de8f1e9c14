// Package overlay simulates the collaborators of the translation overlay:
// screen capture, text recognition, translation and rendering. The CLI and
// the examples drive the scheduling engine with it.
package overlay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/pipeline"
	"github.com/OptikR/OptikR-sub005/task"
)

// Region is a rectangle of the captured frame that contains text.
type Region struct {
	ID    string
	Frame int
	X, Y  int
	W, H  int
	// Text is what recognition will find in the region.
	Text string
}

// Recognized is the output of text recognition for one region.
type Recognized struct {
	Region     Region
	Text       string
	Confidence float64
}

// Translated is the output of translation for one region.
type Translated struct {
	Region Region
	Source string
	Text   string
	Cached bool
}

// Rendered is a positioned overlay label.
type Rendered struct {
	RegionID string
	X, Y     int
	Label    string
}

// ErrUnrecognized is returned for regions recognition could not read.
var ErrUnrecognized = errors.New("overlay: text not recognized")

var phrases = []string{
	"start game",
	"options",
	"save and quit",
	"new message",
	"inventory full",
	"level up",
	"continue",
	"press any key",
}

var dictionary = map[string]string{
	"start":     "starten",
	"game":      "spiel",
	"options":   "optionen",
	"save":      "speichern",
	"and":       "und",
	"quit":      "beenden",
	"new":       "neue",
	"message":   "nachricht",
	"inventory": "inventar",
	"full":      "voll",
	"level":     "stufe",
	"up":        "auf",
	"continue":  "weiter",
	"press":     "drücke",
	"any":       "eine",
	"key":       "taste",
}

// Config controls the simulated latencies and failure rates.
type Config struct {
	RegionsPerFrame int
	// OCRLatency is the fixed cost of one recognition batch; OCRPerItem is
	// added per region.
	OCRLatency       time.Duration
	OCRPerItem       time.Duration
	TranslateLatency time.Duration
	RenderLatency    time.Duration
	// FailureRate is the probability that a translation fails.
	FailureRate float64
	Seed        uint64
}

// DefaultConfig returns latencies in the range of a real overlay.
func DefaultConfig() Config {
	return Config{
		RegionsPerFrame:  4,
		OCRLatency:       8 * time.Millisecond,
		OCRPerItem:       2 * time.Millisecond,
		TranslateLatency: 5 * time.Millisecond,
		RenderLatency:    time.Millisecond,
		FailureRate:      0,
		Seed:             1,
	}
}

// CacheStats reports translation cache effectiveness.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Simulator produces regions and implements the stage functions.
type Simulator struct {
	cfg Config

	mu    sync.Mutex
	rng   *rand.Rand
	cache map[string]string
	stats CacheStats
}

// NewSimulator creates a Simulator.
func NewSimulator(cfg Config) *Simulator {
	if cfg.RegionsPerFrame < 1 {
		cfg.RegionsPerFrame = 1
	}
	return &Simulator{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)), // #nosec G404 -- simulation only
		cache: make(map[string]string),
	}
}

// Capture returns the text regions of frame.
func (s *Simulator) Capture(frame int) []Region {
	s.mu.Lock()
	defer s.mu.Unlock()

	regions := make([]Region, s.cfg.RegionsPerFrame)
	for i := range regions {
		regions[i] = Region{
			ID:    fmt.Sprintf("f%d-r%d", frame, i),
			Frame: frame,
			X:     s.rng.IntN(1920),
			Y:     s.rng.IntN(1080),
			W:     80 + s.rng.IntN(200),
			H:     20 + s.rng.IntN(20),
			Text:  phrases[s.rng.IntN(len(phrases))],
		}
	}
	return regions
}

// Items wraps regions as work items. Regions repeated across frames are
// marked cacheable; the first region of a frame is high priority.
func (s *Simulator) Items(regions []Region) []*pipeline.Item {
	items := make([]*pipeline.Item, len(regions))
	for i, r := range regions {
		prio := task.PriorityNormal
		if i == 0 {
			prio = task.PriorityHigh
		}
		items[i] = task.NewItem[any](r,
			task.WithPriority(prio),
			task.WithRegion(r.ID),
			task.WithFlags(task.FlagCacheable),
		)
	}
	return items
}

// Recognize is a batch stage function: one call reads every region of the
// batch.
func (s *Simulator) Recognize(ctx context.Context, items []*pipeline.Item) ([]any, error) {
	if err := sleep(ctx, s.cfg.OCRLatency+time.Duration(len(items))*s.cfg.OCRPerItem); err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, item := range items {
		r, ok := item.Payload.(Region)
		if !ok {
			return nil, fmt.Errorf("recognize: unexpected payload %T", item.Payload)
		}
		out[i] = Recognized{Region: r, Text: r.Text, Confidence: 0.9}
	}
	return out, nil
}

// Translate is a stage function translating one recognized region.
// Cacheable items reuse earlier translations of the same text.
func (s *Simulator) Translate(ctx context.Context, item *pipeline.Item) (any, error) {
	rec, ok := item.Payload.(Recognized)
	if !ok {
		return nil, fmt.Errorf("translate: unexpected payload %T", item.Payload)
	}
	if strings.TrimSpace(rec.Text) == "" {
		return nil, ErrUnrecognized
	}

	cacheable := item.Flags.Has(task.FlagCacheable)
	if cacheable {
		if text, ok := s.lookup(rec.Text); ok {
			return Translated{Region: rec.Region, Source: rec.Text, Text: text, Cached: true}, nil
		}
	}

	if err := sleep(ctx, s.cfg.TranslateLatency); err != nil {
		return nil, err
	}
	if s.fail() {
		return nil, fmt.Errorf("translate %q: service unavailable", rec.Text)
	}

	text := translate(rec.Text)
	if cacheable {
		s.store(rec.Text, text)
	}
	return Translated{Region: rec.Region, Source: rec.Text, Text: text}, nil
}

// Render is a stage function positioning the translated label.
func (s *Simulator) Render(ctx context.Context, item *pipeline.Item) (any, error) {
	tr, ok := item.Payload.(Translated)
	if !ok {
		return nil, fmt.Errorf("render: unexpected payload %T", item.Payload)
	}
	if err := sleep(ctx, s.cfg.RenderLatency); err != nil {
		return nil, err
	}
	return Rendered{RegionID: tr.Region.ID, X: tr.Region.X, Y: tr.Region.Y, Label: tr.Text}, nil
}

// CacheStats returns a snapshot of the translation cache.
func (s *Simulator) CacheStats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Size = len(s.cache)
	return st
}

func (s *Simulator) lookup(text string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache[text]
	if ok {
		s.stats.Hits++
	} else {
		s.stats.Misses++
	}
	return v, ok
}

func (s *Simulator) store(text, translated string) {
	s.mu.Lock()
	s.cache[text] = translated
	s.mu.Unlock()
}

func (s *Simulator) fail() bool {
	if s.cfg.FailureRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.cfg.FailureRate
}

func translate(text string) string {
	words := strings.Fields(text)
	for i, w := range words {
		if t, ok := dictionary[strings.ToLower(w)]; ok {
			words[i] = t
		}
	}
	return strings.Join(words, " ")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
