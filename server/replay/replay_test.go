package replay

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"instant-glicko2/server/glicko"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testEngine(t *testing.T) *glicko.RatingEngine {
	t.Helper()
	start, err := glicko.NewPublicRating(1500, 200, 0.06)
	if err != nil {
		t.Fatalf("NewPublicRating: %v", err)
	}
	s, err := glicko.NewSettings(start, 0.5, 1e-6, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}
	return glicko.StartNewAt(s, t0)
}

const paperLog = `
# Glickman's worked example, replayed as one closed period.
{"at":"2024-03-01T12:00:00Z","kind":"player","name":"player","rating":1500,"deviation":200,"volatility":0.06}
{"at":"2024-03-01T12:00:00Z","kind":"player","name":"a","rating":1400,"deviation":30}
{"at":"2024-03-01T12:00:00Z","kind":"player","name":"b","rating":1550,"deviation":100}
{"at":"2024-03-01T12:00:00Z","kind":"player","name":"c","rating":1700,"deviation":300}
{"at":"2024-03-01T12:00:00Z","kind":"result","p1":"player","p2":"a","result":"win"}
{"at":"2024-03-01T12:00:00Z","kind":"result","p1":"b","p2":"player","result":"win"}
{"at":"2024-03-01T12:00:00Z","kind":"result","p1":"player","p2":"c","result":"LOSS"}
`

func TestDecode(t *testing.T) {
	events, err := Decode(strings.NewReader(paperLog))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if len(events) != 7 {
		t.Fatalf("events = %d, want 7", len(events))
	}
	if events[0].Line != 3 || events[0].Kind != KindPlayer || events[0].Name != "player" {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Volatility != nil {
		t.Fatalf("missing volatility decoded as %v", *events[1].Volatility)
	}
	if events[6].Result != "LOSS" || events[6].P2 != "c" {
		t.Fatalf("last event = %+v", events[6])
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := map[string]string{
		"bad json":     `{"at":`,
		"unknown kind": `{"at":"2024-03-01T12:00:00Z","kind":"forfeit"}`,
		"no time":      `{"kind":"player","name":"x"}`,
		"no name":      `{"at":"2024-03-01T12:00:00Z","kind":"player"}`,
		"no opponent":  `{"at":"2024-03-01T12:00:00Z","kind":"result","p1":"x","result":"win"}`,
		"bad result":   `{"at":"2024-03-01T12:00:00Z","kind":"result","p1":"x","p2":"y","result":"resign"}`,
		"extra field":  `{"at":"2024-03-01T12:00:00Z","kind":"player","name":"x","elo":1200}`,
		"backwards": `{"at":"2024-03-02T12:00:00Z","kind":"player","name":"x"}
{"at":"2024-03-01T12:00:00Z","kind":"player","name":"y"}`,
	}
	for name, in := range cases {
		_, err := Decode(strings.NewReader(in))
		if !errors.Is(err, ErrBadEvent) {
			t.Fatalf("%s: error = %v, want ErrBadEvent", name, err)
		}
		if !strings.Contains(err.Error(), "line ") {
			t.Fatalf("%s: error %q has no line number", name, err)
		}
	}
}

func TestRunPaperExample(t *testing.T) {
	events, err := Decode(strings.NewReader(paperLog))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	e := testEngine(t)
	// One full period later the games are folded into the stored rating.
	events = append(events, Event{At: t0.Add(24 * time.Hour), Kind: KindPlayer, Name: "late"})
	rep, err := Run(e, events)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if rep.Results != 3 || len(rep.Standings) != 5 {
		t.Fatalf("report = %d results, %d standings", rep.Results, len(rep.Standings))
	}
	p := rep.Standings[0]
	if p.Name != "player" || p.Tally != (Tally{Wins: 1, Losses: 2}) {
		t.Fatalf("standing = %+v", p)
	}
	if math.Abs(p.Rating.Rating()-1464.05) > 0.05 {
		t.Fatalf("rating = %v, want ~1464.05", p.Rating.Rating())
	}
	if math.Abs(p.Rating.Deviation()-151.52) > 0.05 {
		t.Fatalf("deviation = %v, want ~151.52", p.Rating.Deviation())
	}
	if got := rep.Standings[3].Tally; got != (Tally{Wins: 1}) {
		t.Fatalf("c tally = %+v", got)
	}
	if !rep.At.Equal(t0.Add(24 * time.Hour)) {
		t.Fatalf("report at %v", rep.At)
	}
}

func TestRunDefaultsToStartRating(t *testing.T) {
	e := testEngine(t)
	rep, err := Run(e, []Event{{Line: 1, At: t0, Kind: KindPlayer, Name: "x"}})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := rep.Standings[0].Rating; got.Rating() != 1500 || math.Abs(got.Deviation()-200) > 1e-9 {
		t.Fatalf("rating = %v, want start rating", got)
	}
}

func TestRunErrors(t *testing.T) {
	dev := -5.0
	cases := map[string][]Event{
		"duplicate": {
			{Line: 1, At: t0, Kind: KindPlayer, Name: "x"},
			{Line: 2, At: t0, Kind: KindPlayer, Name: "x"},
		},
		"unknown": {
			{Line: 1, At: t0, Kind: KindPlayer, Name: "x"},
			{Line: 2, At: t0, Kind: KindResult, P1: "x", P2: "y", Result: "win"},
		},
		"self": {
			{Line: 1, At: t0, Kind: KindPlayer, Name: "x"},
			{Line: 2, At: t0, Kind: KindResult, P1: "x", P2: "x", Result: "win"},
		},
		"bad rating": {
			{Line: 1, At: t0, Kind: KindPlayer, Name: "x", Deviation: &dev},
		},
	}
	for name, events := range cases {
		_, err := Run(testEngine(t), events)
		if !errors.Is(err, ErrBadEvent) {
			t.Fatalf("%s: error = %v, want ErrBadEvent", name, err)
		}
	}
}

func TestSessionNamesExistingPlayers(t *testing.T) {
	e := testEngine(t)
	if _, _, err := e.RegisterPlayerAt(e.Settings().StartRating(), t0); err != nil {
		t.Fatalf("RegisterPlayerAt: %v", err)
	}
	s := NewSession(e)
	if err := s.Apply(Event{Line: 1, At: t0, Kind: KindPlayer, Name: "new"}); err != nil {
		t.Fatalf("Apply player: %v", err)
	}
	if err := s.Apply(Event{Line: 2, At: t0.Add(time.Hour), Kind: KindResult, P1: "player#0", P2: "new", Result: "draw"}); err != nil {
		t.Fatalf("Apply result: %v", err)
	}
	rep, err := s.Report(time.Time{})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Standings[0].Name != "player#0" || rep.Standings[0].Tally.Draws != 1 || rep.Standings[1].Tally.Draws != 1 {
		t.Fatalf("standings = %+v", rep.Standings)
	}
	if !s.Last().Equal(t0.Add(time.Hour)) {
		t.Fatalf("last = %v", s.Last())
	}
}
