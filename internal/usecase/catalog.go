package usecase

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
	toml "github.com/pelletier/go-toml/v2"

	reviewerrors "librarian/internal/errors"
)

// CatalogDeclarationFile is the conventional name of a TOML catalog.
const CatalogDeclarationFile = "USECASES.toml"

// ParseCatalog parses a markdown catalog. Every table in the document is
// scanned; rows whose first four cells are not id/domain/need/dependencies
// are skipped.
func ParseCatalog(text string, r Range) []UseCase {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := markdown.Parse([]byte(text), p)

	var parsed []UseCase
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		row, ok := node.(*ast.TableRow)
		if !ok || !entering {
			return ast.GoToNext
		}

		cells := make([]string, 0, 4)
		for _, child := range row.GetChildren() {
			cell, ok := child.(*ast.TableCell)
			if !ok {
				continue
			}
			if cell.IsHeader {
				return ast.SkipChildren
			}
			cells = append(cells, cellText(cell))
		}

		if len(cells) >= 4 {
			id := strings.TrimSpace(cells[0])
			if uc, ok := normalize(id, cells[1], cells[2], ParseDependencies(cells[3], id)); ok {
				parsed = append(parsed, uc)
			}
		}
		return ast.SkipChildren
	})

	return filter(parsed, r)
}

// cellText concatenates every literal below a table cell, so that inline
// code or emphasis around an id does not hide it.
func cellText(cell ast.Node) string {
	var buf bytes.Buffer
	ast.WalkFunc(cell, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		if leaf := node.AsLeaf(); leaf != nil {
			buf.Write(leaf.Literal)
		}
		return ast.GoToNext
	})
	return buf.String()
}

// declaration is the TOML catalog layout.
type declaration struct {
	UseCases []UseCase `toml:"usecase"`
}

// ParseDeclaration parses a TOML catalog with [[usecase]] entries.
// Entries with a malformed id or missing domain are skipped.
func ParseDeclaration(data []byte, r Range) ([]UseCase, error) {
	var decl declaration
	if err := toml.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("failed to parse catalog declaration: %w", err)
	}

	parsed := make([]UseCase, 0, len(decl.UseCases))
	for _, raw := range decl.UseCases {
		deps := raw.Dependencies
		if len(deps) == 1 && strings.EqualFold(strings.TrimSpace(deps[0]), "none") {
			deps = nil
		}
		if uc, ok := normalize(raw.ID, raw.Domain, raw.Need, deps); ok {
			parsed = append(parsed, uc)
		}
	}
	return filter(parsed, r), nil
}

// LoadCatalog reads a catalog from disk. Files ending in .toml are parsed as
// declarations, everything else as markdown.
func LoadCatalog(path string, r Range) ([]UseCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reviewerrors.New(reviewerrors.CatalogUnreadable, "failed to read catalog "+path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		catalog, err := ParseDeclaration(data, r)
		if err != nil {
			return nil, reviewerrors.New(reviewerrors.CatalogUnreadable, "invalid catalog "+path, err)
		}
		return catalog, nil
	}

	return ParseCatalog(string(data), r), nil
}
