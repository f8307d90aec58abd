package main

import (
	"fmt"
	"os"
	"strings"

	"Go2NetStats/internal/writer"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana <snapshot.gob|run_dir|root_dir> [table] [limit]")
		os.Exit(1)
	}

	snap, err := writer.ReadSnapshot(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read snapshot: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Snapshot created %s, schema v%d, partial=%t\n", snap.CreatedAt.Format("2006-01-02 15:04:05"), snap.SchemaVersion, snap.Partial)
	if len(os.Args) < 3 {
		for _, t := range snap.Tables {
			fmt.Printf("  %-24s %d rows\n", t.Name, len(t.Rows))
		}
		return
	}

	t, ok := snap.Table(os.Args[2])
	if !ok {
		fmt.Fprintf(os.Stderr, "No table %q\n", os.Args[2])
		os.Exit(1)
	}
	limit := 20
	if len(os.Args) > 3 {
		fmt.Sscanf(os.Args[3], "%d", &limit)
	}

	var header []string
	for _, c := range t.Columns() {
		header = append(header, c.Name)
	}
	fmt.Println(strings.Join(header, "\t"))
	for i, row := range t.Rows {
		if i == limit {
			fmt.Printf("... %d more rows\n", len(t.Rows)-limit)
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
}
