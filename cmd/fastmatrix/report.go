package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fxnlabs/fastmatrix/internal/harness"
)

func printReport(w io.Writer, rep *harness.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmt.Fprintf(w, "%s %s %s (%s), seed %d, %d repetition(s)\n",
		rep.Operation, rep.Shape, rep.DType, rep.Order, rep.Seed, rep.Repetitions)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KERNEL\tMIN\tTIME\tGFLOPS\tCHECK\tVERDICT\tDIGEST")
	for _, v := range rep.Variants {
		gflops := "-"
		if v.GFLOPS > 0 {
			gflops = fmt.Sprintf("%.3f", v.GFLOPS)
		}
		fmt.Fprintf(tw, "%s\t%g\t%s\t%s\t%s\t%s\t%s\n",
			v.Kernel, v.Min, v.Elapsed, gflops, v.Check, strings.ToUpper(string(v.Verdict)), shortDigest(v.Digest))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if a := rep.Agreement; a != nil {
		fmt.Fprintf(w, "%s vs %s: %s (max abs diff %g)\n", a.Variants[0], a.Variants[1], strings.ToUpper(string(a.Verdict)), a.MaxAbsDiff)
	}
	if rep.Passed {
		fmt.Fprintln(w, "Computation was correct")
	} else {
		fmt.Fprintln(w, "Computation was NOT correct")
	}
	return nil
}

func shortDigest(d string) string {
	if len(d) > 18 {
		return d[:18]
	}
	return d
}
