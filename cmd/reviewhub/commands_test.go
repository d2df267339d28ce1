package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/reviews"
)

func TestRenderStatsListsEveryProduct(t *testing.T) {
	var buffer bytes.Buffer
	renderStats(&buffer, []reviews.ProductStats{
		{ProductID: "product-1", GTIN: "0012345678905", ReviewCount: 3, AverageRating: 3.67, VerifiedCount: 2, HelpfulTotal: 5},
		{ProductID: "product-2", GTIN: "4006381333931", ReviewCount: 1, AverageRating: 3},
	})
	output := buffer.String()
	for _, expected := range []string{"product-1", "0012345678905", "3.67", "product-2", "3.00"} {
		if !strings.Contains(output, expected) {
			t.Fatalf("expected %q in output:\n%s", expected, output)
		}
	}
}

func TestRenderStatsHandlesEmptyStore(t *testing.T) {
	var buffer bytes.Buffer
	renderStats(&buffer, nil)
	if strings.TrimSpace(buffer.String()) != "no reviews stored" {
		t.Fatalf("unexpected output %q", buffer.String())
	}
}

func TestRenderRefreshReport(t *testing.T) {
	var buffer bytes.Buffer
	renderRefreshReport(&buffer, reviews.RefreshReport{Processed: 4, Inserted: 7, Updated: 2, Failed: 1})
	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	last := lines[len(lines)-1]
	digits := strings.FieldsFunc(last, func(r rune) bool { return r < '0' || r > '9' })
	if strings.Join(digits, " ") != "4 7 2 1" {
		t.Fatalf("unexpected report row %q", last)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "refresh-all", "stats", "clean", "issue-token"} {
		found, _, err := root.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Fatalf("expected subcommand %s, got %v (%v)", name, found, err)
		}
	}
}
