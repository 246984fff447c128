// Package catalog loads the store's product list and detects product
// mentions in recognised speech.
//
// The catalog file is plain text: one product per line, with the product
// name up front and optional details (aisle, price) after a ':', ',' or '-'
// separator. Lines starting with '#' are comments.
//
// Detection runs in two passes. A substring pass catches exact mentions; a
// phonetic pass built on Double Metaphone codes with Jaro-Winkler ranking
// catches names the speech recogniser mangled.
package catalog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Product is one entry in the store catalog.
type Product struct {
	// Name is the product name used for detection.
	Name string

	// Detail is everything after the separator: aisle, price, notes.
	Detail string

	// Line is the full catalog line, used verbatim in prompts.
	Line string
}

// Catalog is an immutable snapshot of the product list. Safe for concurrent
// use; reloads produce a new Catalog.
type Catalog struct {
	products []Product
}

// Parse reads a catalog from r. Unparseable lines are skipped rather than
// failing the whole load.
func Parse(r io.Reader) (*Catalog, error) {
	var products []Product
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, detail := splitLine(line)
		if name == "" {
			continue
		}
		products = append(products, Product{Name: name, Detail: detail, Line: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("catalog: read: %w", err)
	}
	return &Catalog{products: products}, nil
}

// Load reads a catalog from the file at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// splitLine separates the product name from its details at the first
// ':', ',' or '-' separator.
func splitLine(line string) (name, detail string) {
	if i := strings.IndexAny(line, ":,-"); i >= 0 {
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
	}
	return line, ""
}

// Products returns the catalog entries in file order.
func (c *Catalog) Products() []Product {
	return c.products
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	return len(c.products)
}

// Lines returns the raw catalog lines, used to build the session prompt.
func (c *Catalog) Lines() []string {
	lines := make([]string, len(c.products))
	for i, p := range c.products {
		lines[i] = p.Line
	}
	return lines
}

// Lookup returns the product with the given name (case-insensitive).
func (c *Catalog) Lookup(name string) (Product, bool) {
	lower := strings.ToLower(name)
	for _, p := range c.products {
		if strings.ToLower(p.Name) == lower {
			return p, true
		}
	}
	return Product{}, false
}
