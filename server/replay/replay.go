// Package replay feeds a JSON-lines match log through a rating engine.
//
// Each non-blank line is one event:
//
//	{"at":"2024-03-01T12:00:00Z","kind":"player","name":"alice","rating":1500,"deviation":350,"volatility":0.06}
//	{"at":"2024-03-01T12:05:00Z","kind":"result","p1":"alice","p2":"bob","result":"win"}
//
// Lines starting with '#' are comments. Rating fields left out of a
// player event fall back to the engine's start rating. Results are read
// from p1's side.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"instant-glicko2/server/glicko"
)

var ErrBadEvent = errors.New("replay: bad event")

type Kind string

const (
	KindPlayer Kind = "player"
	KindResult Kind = "result"
)

type Event struct {
	Line int       `json:"-"`
	At   time.Time `json:"at"`
	Kind Kind      `json:"kind"`

	// player
	Name       string   `json:"name,omitempty"`
	Rating     *float64 `json:"rating,omitempty"`
	Deviation  *float64 `json:"deviation,omitempty"`
	Volatility *float64 `json:"volatility,omitempty"`

	// result
	P1     string `json:"p1,omitempty"`
	P2     string `json:"p2,omitempty"`
	Result string `json:"result,omitempty"`
}

func lineErr(line int, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrBadEvent, line, fmt.Sprintf(format, args...))
}

// Decode reads every event from r. Events must not go back in time.
func Decode(r io.Reader) ([]Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		out  []Event
		last time.Time
		line int
	)
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, lineErr(line, "%v", err)
		}
		ev.Line = line
		if ev.At.IsZero() {
			return nil, lineErr(line, "missing \"at\"")
		}
		if ev.At.Before(last) {
			return nil, lineErr(line, "at %s is before previous event %s", ev.At.Format(time.RFC3339), last.Format(time.RFC3339))
		}
		last = ev.At
		switch ev.Kind {
		case KindPlayer:
			if ev.Name == "" {
				return nil, lineErr(line, "player event without name")
			}
		case KindResult:
			if ev.P1 == "" || ev.P2 == "" {
				return nil, lineErr(line, "result event needs p1 and p2")
			}
			if _, err := glicko.ParseMatchResult(ev.Result); err != nil {
				return nil, lineErr(line, "%v", err)
			}
		default:
			return nil, lineErr(line, "unknown kind %q", ev.Kind)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	return out, nil
}

// Tally counts games from one player's side.
type Tally struct {
	Wins   int
	Losses int
	Draws  int
}

func (t Tally) Games() int { return t.Wins + t.Losses + t.Draws }

func (t *Tally) add(r glicko.MatchResult) {
	switch r {
	case glicko.Win:
		t.Wins++
	case glicko.Loss:
		t.Losses++
	default:
		t.Draws++
	}
}

type Standing struct {
	Name   string
	Handle glicko.PlayerHandle
	Rating glicko.PublicRating
	Tally  Tally
}

type Report struct {
	At        time.Time
	Results   int
	Standings []Standing // registration order
}

// Session maps player names onto engine handles while events are applied.
// Players already in the engine are named by their handle ("player#0").
type Session struct {
	engine  *glicko.RatingEngine
	handles map[string]glicko.PlayerHandle
	names   []string
	tallies []Tally
	results int
	last    time.Time
}

func NewSession(e *glicko.RatingEngine) *Session {
	s := &Session{engine: e, handles: make(map[string]glicko.PlayerHandle)}
	for _, h := range e.PlayerHandles() {
		s.handles[h.String()] = h
		s.names = append(s.names, h.String())
		s.tallies = append(s.tallies, Tally{})
	}
	return s
}

func (s *Session) Engine() *glicko.RatingEngine { return s.engine }
func (s *Session) Last() time.Time              { return s.last }

// Apply registers one event with the engine.
func (s *Session) Apply(ev Event) error {
	switch ev.Kind {
	case KindPlayer:
		if _, dup := s.handles[ev.Name]; dup {
			return lineErr(ev.Line, "player %q already registered", ev.Name)
		}
		start := s.engine.Settings().StartRating()
		rating, deviation, volatility := start.Rating(), start.Deviation(), start.Volatility()
		if ev.Rating != nil {
			rating = *ev.Rating
		}
		if ev.Deviation != nil {
			deviation = *ev.Deviation
		}
		if ev.Volatility != nil {
			volatility = *ev.Volatility
		}
		r, err := glicko.NewPublicRating(rating, deviation, volatility)
		if err != nil {
			return lineErr(ev.Line, "player %q: %v", ev.Name, err)
		}
		h, _, err := s.engine.RegisterPlayerAt(r, ev.At)
		if err != nil {
			return lineErr(ev.Line, "player %q: %v", ev.Name, err)
		}
		if h.Index() != len(s.names) {
			return fmt.Errorf("replay: engine handed out %v, expected player#%d", h, len(s.names))
		}
		s.handles[ev.Name] = h
		s.names = append(s.names, ev.Name)
		s.tallies = append(s.tallies, Tally{})

	case KindResult:
		p1, ok := s.handles[ev.P1]
		if !ok {
			return lineErr(ev.Line, "unknown player %q", ev.P1)
		}
		p2, ok := s.handles[ev.P2]
		if !ok {
			return lineErr(ev.Line, "unknown player %q", ev.P2)
		}
		res, err := glicko.ParseMatchResult(ev.Result)
		if err != nil {
			return lineErr(ev.Line, "%v", err)
		}
		if _, err := s.engine.RegisterResultAt(p1, p2, res, ev.At); err != nil {
			return lineErr(ev.Line, "%s vs %s: %v", ev.P1, ev.P2, err)
		}
		s.tallies[p1.Index()].add(res)
		s.tallies[p2.Index()].add(res.Invert())
		s.results++

	default:
		return lineErr(ev.Line, "unknown kind %q", ev.Kind)
	}
	if ev.At.After(s.last) {
		s.last = ev.At
	}
	return nil
}

// Report reads every player's instant rating at the given time. A zero
// time means the last applied event, or the engine clock if none was.
func (s *Session) Report(at time.Time) (Report, error) {
	if at.IsZero() {
		at = s.last
	}
	if at.IsZero() {
		at = s.engine.Now()
	}
	rep := Report{At: at, Results: s.results, Standings: make([]Standing, 0, len(s.names))}
	for i, name := range s.names {
		h := s.handles[name]
		r, _, err := s.engine.PlayerRatingAt(h, at)
		if err != nil {
			return Report{}, fmt.Errorf("rating for %s: %w", name, err)
		}
		rep.Standings = append(rep.Standings, Standing{Name: name, Handle: h, Rating: r, Tally: s.tallies[i]})
	}
	return rep, nil
}

// Run applies events in order on a fresh session and reports at the last
// event time.
func Run(e *glicko.RatingEngine, events []Event) (Report, error) {
	s := NewSession(e)
	for _, ev := range events {
		if err := s.Apply(ev); err != nil {
			return Report{}, err
		}
	}
	return s.Report(time.Time{})
}
