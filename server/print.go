package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"instant-glicko2/server/glicko"
	"instant-glicko2/server/replay"
)

//
// ===== pretty printing =====
//

var useColor bool

const (
	colReset  = "\033[0m"
	colBold   = "\033[1m"
	colDim    = "\033[2m"
	colGreen  = "\033[32m"
	colRed    = "\033[31m"
	colYellow = "\033[33m"
	colCyan   = "\033[36m"
)

func c(code, s string) string {
	if !useColor {
		return s
	}
	return code + s + colReset
}
func bold(s string) string { return c(colBold, s) }
func dim(s string) string  { return c(colDim, s) }
func good(s string) string { return c(colGreen, s) }
func warn(s string) string { return c(colYellow, s) }
func bad(s string) string  { return c(colRed, s) }
func cyan(s string) string { return c(colCyan, s) }
func nameShort(n string) string {
	n = strings.TrimSpace(n)
	if r := []rune(n); len(r) > 20 {
		return string(r[:20])
	}
	return n
}
func section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s %s %s\n", dim("──"), bold(title), dim("──"))
}
func sub(w io.Writer, title string) { fmt.Fprintf(w, "%s %s\n", dim("•"), bold(title)) }

// ratingTag colours a rating by where it sits against the start rating.
func ratingTag(r, start float64) string {
	s := fmt.Sprintf("%7.1f", r)
	switch {
	case r > start+0.5:
		return good(s)
	case r < start-0.5:
		return bad(s)
	default:
		return s
	}
}

// deviationTag flags players whose deviation is still near the ceiling.
func deviationTag(rd, ceiling float64) string {
	s := fmt.Sprintf("%6.1f", rd)
	if rd >= 0.9*ceiling {
		return warn(s)
	}
	return dim(s)
}

func printLeaderboard(w io.Writer, rep replay.Report, settings glicko.Settings, closed uint32) {
	section(w, "Leaderboard")
	sub(w, fmt.Sprintf("%s  periods closed: %d  results: %d",
		rep.At.UTC().Format("2006-01-02 15:04:05Z"), closed, rep.Results))

	rows := append([]replay.Standing(nil), rep.Standings...)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Rating.Rating() > rows[j].Rating.Rating()
	})

	start := settings.StartRating().Rating()
	fmt.Fprintf(w, "%s\n", dim(fmt.Sprintf("%4s  %-20s %7s %6s %8s  %-11s %6s  %s",
		"#", "player", "rating", "RD", "sigma", "W-L-D", "score", "95% CI")))
	for i, st := range rows {
		score, lo, hi := scoreCI(st.Tally)
		ci := "-"
		if st.Tally.Games() > 0 {
			ci = fmt.Sprintf("[%.2f, %.2f]", lo, hi)
		}
		fmt.Fprintf(w, "%4d  %-20s %s %s %8.5f  %-11s %6s  %s\n",
			i+1,
			nameShort(st.Name),
			ratingTag(st.Rating.Rating(), start),
			deviationTag(st.Rating.Deviation(), settings.MaxDeviation()),
			st.Rating.Volatility(),
			fmt.Sprintf("%d-%d-%d", st.Tally.Wins, st.Tally.Losses, st.Tally.Draws),
			scoreTag(score, st.Tally.Games()),
			cyan(ci),
		)
	}
}

func scoreTag(score float64, games int) string {
	if games == 0 {
		return "-"
	}
	return fmt.Sprintf("%5.1f%%", 100*score)
}
