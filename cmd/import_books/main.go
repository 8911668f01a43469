// Command import_books bulk-loads the catalog from a CSV file.
//
// The first row must be a header naming at least the columns title, author,
// isbn, quantity, publisher and publication_year, in any order.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"library-service/config"
	"library-service/library"
)

var columns = []string{"title", "author", "isbn", "quantity", "publisher", "publication_year"}

// row is one parsed CSV record; line is its 1-based line in the file.
type row struct {
	line int
	book library.BookInput
}

// readBooks parses r. A malformed number fails the whole file since it
// usually means the columns are shifted.
func readBooks(r io.Reader) ([]row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range columns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	var rows []row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		field := func(name string) string { return strings.TrimSpace(rec[idx[name]]) }

		qty, err := strconv.Atoi(field("quantity"))
		if err != nil {
			return nil, fmt.Errorf("line %d: quantity: %w", line, err)
		}
		year, err := strconv.Atoi(field("publication_year"))
		if err != nil {
			return nil, fmt.Errorf("line %d: publication_year: %w", line, err)
		}
		rows = append(rows, row{line: line, book: library.BookInput{
			Title:           field("title"),
			Author:          field("author"),
			ISBN:            field("isbn"),
			Quantity:        qty,
			Publisher:       field("publisher"),
			PublicationYear: year,
		}})
	}
}

type result struct {
	imported []*library.Book
	failed   int
}

// importBooks adds every row through the catalog. Rows the catalog rejects
// (duplicate ISBN, invalid fields) are reported and skipped.
func importBooks(ctx context.Context, out io.Writer, cat *library.Catalog, rows []row) result {
	var res result
	for _, r := range rows {
		fmt.Fprintf(out, "Importing: %s by %s... ", r.book.Title, r.book.Author)
		b, err := cat.AddBook(ctx, r.book)
		if err != nil {
			fmt.Fprintf(out, "ERROR (line %d) - %v\n", r.line, err)
			res.failed++
			continue
		}
		fmt.Fprintf(out, "SUCCESS (ID: %d)\n", b.ID)
		res.imported = append(res.imported, b)
	}
	return res
}

func main() {
	var envFile, dbPath string

	cmd := &cobra.Command{
		Use:          "import_books <file.csv>",
		Short:        "Import books from a CSV file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := readBooks(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			db, err := cfg.OpenDatabase()
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			lib := library.NewLibraryManagerWithDatabase(db, library.WithLogger(log.Level(zerolog.WarnLevel)))
			defer lib.Close()

			fmt.Printf("Importing %d books from %s...\n", len(rows), args[0])
			res := importBooks(cmd.Context(), os.Stdout, lib.Catalog, rows)

			fmt.Printf("\nImport complete!\n")
			fmt.Printf("Successfully imported: %d books\n", len(res.imported))
			fmt.Printf("Errors: %d\n", res.failed)
			if len(res.imported) > 0 {
				fmt.Println("\nImported books:")
				fmt.Printf("%-5s %-45s %-25s %s\n", "ID", "Title", "Author", "Qty")
				fmt.Println(strings.Repeat("-", 82))
				for _, b := range res.imported {
					fmt.Printf("%-5d %-45s %-25s %d\n", b.ID, truncateString(b.Title, 45), truncateString(b.Author, 25), b.Quantity)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "load settings from this .env file")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
