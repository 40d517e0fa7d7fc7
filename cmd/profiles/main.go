package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"tradecore/internal/domain"
	"tradecore/internal/profile"
)

func main() {
	// Parse flags
	profilesFile := flag.String("profiles", "", "YAML profile table, empty for the built-in defaults")
	rrList := flag.String("rr", "1.5,2,3,5", "Comma-separated planned RR samples to resolve against")
	tfFilter := flag.String("timeframe", "", "Only print this timeframe")
	flag.Parse()

	// Load and validate the table
	var (
		table profile.Table
		err   error
	)
	if *profilesFile != "" {
		table, err = profile.LoadTable(*profilesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading profile table: %v\n", err)
			os.Exit(1)
		}
	} else {
		table = profile.DefaultTable()
	}

	samples, err := parseRRList(*rrList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: bad --rr value %q: %v\n", *rrList, err)
		os.Exit(1)
	}

	filter := domain.Timeframe(*tfFilter)
	if *tfFilter != "" && !filter.IsValid() {
		fmt.Fprintf(os.Stderr, "Error: unknown timeframe %q\n", *tfFilter)
		os.Exit(1)
	}

	tfs := sortedTimeframes(table, filter)
	if len(tfs) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no profiles for timeframe %q\n", *tfFilter)
		os.Exit(1)
	}

	profiles := 0
	for _, tf := range tfs {
		profiles += len(table[tf])
	}
	fmt.Printf("Profile table: %d timeframes, %d profiles\n", len(tfs), profiles)

	for _, tf := range tfs {
		for _, mode := range sortedModes(table[tf]) {
			printProfile(tf, mode, table[tf][mode], samples)
		}
	}
}

// parseRRList splits a comma-separated list of planned RR values.
func parseRRList(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("rr must be positive, got %v", v)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no rr samples")
	}
	return out, nil
}

// sortedTimeframes returns the table's timeframes ordered by bar interval.
func sortedTimeframes(table profile.Table, filter domain.Timeframe) []domain.Timeframe {
	tfs := make([]domain.Timeframe, 0, len(table))
	for tf := range table {
		if filter != "" && tf != filter {
			continue
		}
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool {
		di, dj := tfs[i].Duration(), tfs[j].Duration()
		if di != dj {
			return di < dj
		}
		return tfs[i] < tfs[j]
	})
	return tfs
}

func sortedModes(modes map[domain.TradeMode]profile.ExitProfile) []domain.TradeMode {
	out := make([]domain.TradeMode, 0, len(modes))
	for mode := range modes {
		out = append(out, mode)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// printProfile prints one profile's base parameters and the effective
// targets after the single-target override at each sample RR.
func printProfile(tf domain.Timeframe, mode domain.TradeMode, p profile.ExitProfile, samples []float64) {
	fmt.Printf("\n%s/%s\n", tf, mode)

	if p.SingleTarget {
		fmt.Printf("  first target:  %.2fR closes 100%% (single target)\n", p.TP1R)
	} else {
		fmt.Printf("  first target:  %.2fR closes %.0f%% (runner %.0f%%, stop %.2fR)\n",
			p.TP1R, p.TP1Portion*100, p.RunnerPortion*100, p.RunnerStopR)
	}
	fmt.Printf("  breakeven:     trigger %.2fR, lock %.2fR\n", p.BreakevenTriggerR, p.BreakevenLockR)

	if len(p.Ratchet) > 0 {
		tiers := make([]string, len(p.Ratchet))
		for i, tier := range p.Ratchet {
			tiers[i] = fmt.Sprintf("%.2fR locks %.2fR", tier.TriggerR, tier.LockR)
		}
		fmt.Printf("  ratchet:       %s\n", strings.Join(tiers, ", "))
	} else {
		fmt.Printf("  ratchet:       none\n")
	}

	if p.TrailStepR > 0 {
		fmt.Printf("  trail:         every %.2fR advances the lock %.2fR\n", p.TrailStepR, p.TrailMoveR)
	} else {
		fmt.Printf("  trail:         none\n")
	}

	fmt.Printf("  soft stop:     %d bars\n", p.SoftMaxBars)
	if p.MaxRRCap > 0 {
		fmt.Printf("  rr cap:        %.1f\n", p.MaxRRCap)
	} else {
		fmt.Printf("  rr cap:        none\n")
	}

	for _, rr := range samples {
		fmt.Printf("  %s\n", effectiveLine(p, rr))
	}
}

// effectiveLine describes where the position actually closes for one
// planned RR after Resolve.
func effectiveLine(p profile.ExitProfile, rr float64) string {
	eff := p.Resolve(rr)
	if eff.SingleTarget {
		return fmt.Sprintf("planned rr %.2f: close 100%% at %.2fR", rr, eff.TP1R)
	}
	return fmt.Sprintf("planned rr %.2f: tp1 %.0f%% at %.2fR, runner %.0f%% to %.2fR",
		rr, eff.TP1Portion*100, eff.TP1R, eff.RunnerPortion*100, eff.CappedRR(rr))
}
